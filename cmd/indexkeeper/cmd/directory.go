package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/bus"
	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/output"
	"github.com/Aman-CERP/indexkeeper/internal/ui"
)

func newDirectoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "directory",
		Aliases: []string{"dir"},
		Short:   "Query and maintain the identity directory",
		Long: `The directory indexes the users and groups stored in the identity
database. Changes made here are written to the database, applied to the
directory index, and broadcast to every other indexkeeper process.

Commands:
  query   Search identities by name, alias, email or display name
  add     Create an identity
  update  Change an identity
  remove  Delete an identity`,
	}

	cmd.AddCommand(newDirectoryQueryCmd())
	cmd.AddCommand(newDirectoryAddCmd())
	cmd.AddCommand(newDirectoryUpdateCmd())
	cmd.AddCommand(newDirectoryRemoveCmd())

	return cmd
}

func newDirectoryQueryCmd() *cobra.Command {
	var restrictTo, format string
	var local bool

	cmd := &cobra.Command{
		Use:   "query <term>",
		Short: "Search the identity directory",
		Long: `Search identities. Restricted identities are only returned to their
owner, named with --restrict-to.

Examples:
  indexkeeper directory query ali
  indexkeeper directory query ops --restrict-to alice`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := openBackend(cmd.Context(), cfg, local)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			ids, err := b.DirectoryQuery(cmd.Context(), daemon.DirectoryQueryParams{Term: args[0], RestrictTo: restrictTo})
			if err != nil {
				return fmt.Errorf("directory query failed: %w", err)
			}
			r := ui.NewResultRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
			if format == "json" {
				return r.RenderJSON(ids)
			}
			return r.RenderIdentities(ids)
		},
	}

	cmd.Flags().StringVar(&restrictTo, "restrict-to", "", "Owner allowed to see restricted identities")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&local, "local", false, "Open the directory in-process even if the daemon is running")
	return cmd
}

// identityFlags binds the editable identity fields.
type identityFlags struct {
	alias       string
	email       string
	displayName string
	owner       string
	local       bool
}

func (f *identityFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.alias, "alias", "", "Alternate name")
	cmd.Flags().StringVar(&f.email, "email", "", "Email address")
	cmd.Flags().StringVar(&f.displayName, "display-name", "", "Human-readable name")
	cmd.Flags().StringVar(&f.owner, "owner", "", "Restrict visibility to this owner")
	cmd.Flags().BoolVar(&f.local, "local", false, "Apply the change in-process even if the daemon is running")
}

func newDirectoryAddCmd() *cobra.Command {
	var flags identityFlags

	cmd := &cobra.Command{
		Use:     "add <name>",
		Short:   "Create an identity",
		Example: `  indexkeeper directory add alice --email alice@example.com --display-name "Alice Liddell"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDirectoryChange(cmd, flags.local, func(ctx context.Context, db *identity.SQLiteStore) (daemon.DirectoryChangedParams, error) {
				created, err := db.Create(ctx, identity.Identity{
					Name:        args[0],
					Alias:       flags.alias,
					Email:       flags.email,
					DisplayName: flags.displayName,
					Owner:       flags.owner,
				})
				if err != nil {
					return daemon.DirectoryChangedParams{}, err
				}
				output.New(cmd.OutOrStdout()).Successf("Created %s (id %d)", created.Name, created.ID)
				return daemon.DirectoryChangedParams{Op: bus.OpCreated.String(), Subject: created.Name}, nil
			})
		},
	}

	flags.bind(cmd)
	return cmd
}

func newDirectoryUpdateCmd() *cobra.Command {
	var flags identityFlags
	var name string

	cmd := &cobra.Command{
		Use:     "update <id>",
		Short:   "Change an identity",
		Long:    `Change an identity. Only the flags given are modified.`,
		Example: `  indexkeeper directory update 12 --email alice@corp.example.com`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentityID(args[0])
			if err != nil {
				return err
			}
			return runDirectoryChange(cmd, flags.local, func(ctx context.Context, db *identity.SQLiteStore) (daemon.DirectoryChangedParams, error) {
				current, err := db.ByID(ctx, id)
				if err != nil {
					return daemon.DirectoryChangedParams{}, err
				}
				set := cmd.Flags().Changed
				if set("name") {
					current.Name = name
				}
				if set("alias") {
					current.Alias = flags.alias
				}
				if set("email") {
					current.Email = flags.email
				}
				if set("display-name") {
					current.DisplayName = flags.displayName
				}
				if set("owner") {
					current.Owner = flags.owner
				}
				if err := db.Update(ctx, current); err != nil {
					return daemon.DirectoryChangedParams{}, err
				}
				output.New(cmd.OutOrStdout()).Successf("Updated %s (id %d)", current.Name, current.ID)
				return daemon.DirectoryChangedParams{Op: bus.OpModified.String(), Subject: current.Name}, nil
			})
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&name, "name", "", "New name")
	return cmd
}

func newDirectoryRemoveCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an identity",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentityID(args[0])
			if err != nil {
				return err
			}
			return runDirectoryChange(cmd, local, func(ctx context.Context, db *identity.SQLiteStore) (daemon.DirectoryChangedParams, error) {
				if err := db.Delete(ctx, id); err != nil {
					return daemon.DirectoryChangedParams{}, err
				}
				output.New(cmd.OutOrStdout()).Successf("Removed id %d", id)
				return daemon.DirectoryChangedParams{Op: bus.OpDeleted.String(), Subject: strconv.FormatInt(id, 10)}, nil
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Apply the change in-process even if the daemon is running")
	return cmd
}

type identityChange func(ctx context.Context, db *identity.SQLiteStore) (daemon.DirectoryChangedParams, error)

// runDirectoryChange writes the identity database, then has the backend
// update the directory index and broadcast the change.
func runDirectoryChange(cmd *cobra.Command, local bool, change identityChange) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	params, err := applyIdentityChange(ctx, cfg, change)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, local)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	if err := b.DirectoryChanged(ctx, params); err != nil {
		return fmt.Errorf("identity saved but directory not updated: %w", err)
	}
	return nil
}

func applyIdentityChange(ctx context.Context, cfg *config.Config, change identityChange) (daemon.DirectoryChangedParams, error) {
	db, err := identity.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return daemon.DirectoryChangedParams{}, err
	}
	defer func() { _ = db.Close() }()
	return change(ctx, db)
}

func parseIdentityID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid identity id %q", s)
	}
	return id, nil
}
