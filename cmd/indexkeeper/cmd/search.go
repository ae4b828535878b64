package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/ui"
)

// searchOptions holds CLI flags shared by search and suggest.
type searchOptions struct {
	principal string
	types     []string
	facets    []string
	limit     int
	offset    int
	mode      string
	format    string // "text", "json"
	local     bool
}

func (o *searchOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.principal, "principal", "p", defaultPrincipal(), "User or group whose indexes are searched")
	cmd.Flags().StringSliceVarP(&o.types, "type", "t", nil, "Content types to search (repeatable, default all)")
	cmd.Flags().IntVarP(&o.limit, "limit", "n", search.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVarP(&o.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&o.local, "local", false, "Open the indexes in-process even if the daemon is running")
}

func (o *searchOptions) params(query string) daemon.SearchParams {
	return daemon.SearchParams{
		Principal: o.principal,
		Query:     query,
		Mode:      o.mode,
		Options: search.Options{
			Types:  o.types,
			Limit:  o.limit,
			Offset: o.offset,
			Facets: o.facets,
		},
	}
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexes of a principal",
		Long: `Search every content type of a principal and merge the results.

Modes:
  (default)            full-text query (words, "phrases", field:value, +must, -not)
  ngram                match partial words
  suggest_and_search   complete the last word and search with the best completion

Examples:
  indexkeeper search "kernel scheduler" -p alice
  indexkeeper search sched --mode ngram -t snippet
  indexkeeper search "tags:linux" --facet tags --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	opts.bind(cmd)
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of hits to skip")
	cmd.Flags().StringSliceVar(&opts.facets, "facet", nil, "Facet fields to count (repeatable)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", daemon.ModeDefault, "Search mode: ngram, suggest_and_search")

	return cmd
}

func newSuggestCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "suggest <prefix>",
		Short: "Complete the last word of a query",
		Long: `List completions for the last word of the query, most frequent first.

Examples:
  indexkeeper suggest kern -p alice
  indexkeeper suggest "linux sched" -t page -n 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuggest(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	opts.bind(cmd)
	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
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

	start := time.Now()
	res, err := b.Search(ctx, opts.params(query))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Debug("search_completed",
		slog.String("query", query),
		slog.String("mode", opts.mode),
		slog.Uint64("total", res.Total),
		slog.Duration("duration", time.Since(start)))

	r := ui.NewResultRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
	if opts.format == "json" {
		return r.RenderJSON(res)
	}
	return r.RenderSearch(res)
}

func runSuggest(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if err := validateFormat(opts.format); err != nil {
		return err
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

	res, err := b.Suggest(ctx, opts.params(query))
	if err != nil {
		return fmt.Errorf("suggest failed: %w", err)
	}

	r := ui.NewResultRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
	if opts.format == "json" {
		return r.RenderJSON(res)
	}
	return r.RenderSuggestions(res)
}

func validateFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (use text or json)", format)
	}
}

// defaultPrincipal is the login name of the current user.
func defaultPrincipal() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("LOGNAME")
}
