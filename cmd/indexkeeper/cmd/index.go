package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/indexable"
	"github.com/Aman-CERP/indexkeeper/internal/output"
)

type indexOptions struct {
	principal string
	typeName  string
	update    bool
	local     bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <file.json|->",
		Short: "Add documents to the indexes of a principal",
		Long: `Index documents read from a JSON file, or stdin with "-".

The input is one document or an array of documents:

  {"id": "p1", "type": "page", "fields": {"title": "Kernel notes", "body": "..."}}

--type overrides the type of every document.

Examples:
  indexkeeper index pages.json -p alice
  indexkeeper index - --type snippet --update < snippets.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.principal, "principal", "p", defaultPrincipal(), "User or group that owns the documents")
	cmd.Flags().StringVarP(&opts.typeName, "type", "t", "", "Content type for every document")
	cmd.Flags().BoolVar(&opts.update, "update", false, "Replace existing documents with the same id")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Open the indexes in-process even if the daemon is running")

	return cmd
}

func newDeleteCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:     "delete <id>...",
		Short:   "Remove documents from the index of one content type",
		Example: `  indexkeeper delete p1 p2 -t page -p alice`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.principal, "principal", "p", defaultPrincipal(), "User or group that owns the documents")
	cmd.Flags().StringVarP(&opts.typeName, "type", "t", "", "Content type of the documents (required)")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Open the indexes in-process even if the daemon is running")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, opts indexOptions) error {
	docs, err := readDocuments(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents in %s", path)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, opts.local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	out := output.New(cmd.OutOrStdout())
	var applied, skipped int
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		typeName := doc.Type
		if opts.typeName != "" {
			typeName = opts.typeName
		}
		ok, err := b.Index(ctx, daemon.IndexParams{
			Principal: opts.principal,
			Type:      typeName,
			ID:        doc.ID,
			Fields:    doc.Fields,
			Update:    opts.update,
		})
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", doc.ID, err)
		}
		if ok {
			applied++
		} else {
			skipped++
			slog.Warn("document_skipped", slog.String("id", doc.ID), slog.String("type", typeName))
		}
		if len(docs) > 1 {
			out.Progress(i+1, len(docs), "indexing")
		}
	}

	out.Successf("Indexed %d of %d documents for %s", applied, len(docs), opts.principal)
	if skipped > 0 {
		out.Warningf("%d documents were skipped (unknown type or rejected)", skipped)
	}
	return nil
}

func runDelete(ctx context.Context, cmd *cobra.Command, ids []string, opts indexOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, cfg, opts.local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	out := output.New(cmd.OutOrStdout())
	var deleted int
	for _, id := range ids {
		ok, err := b.Delete(ctx, daemon.DeleteParams{Principal: opts.principal, Type: opts.typeName, ID: id})
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		if ok {
			deleted++
		}
	}
	if deleted == 0 {
		out.Warningf("Nothing deleted: unknown type %q", opts.typeName)
		return nil
	}
	out.Successf("Deleted %d documents from %s/%s", deleted, opts.principal, opts.typeName)
	return nil
}

// readDocuments decodes one document or an array of documents from path,
// or from stdin when path is "-".
func readDocuments(stdin io.Reader, path string) ([]indexable.Document, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '[' {
		var docs []indexable.Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("failed to parse documents: %w", err)
		}
		return docs, nil
	}
	var doc indexable.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return []indexable.Document{doc}, nil
}
