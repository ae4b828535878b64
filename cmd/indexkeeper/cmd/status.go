package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Display the state of the running daemon:
  - process id, uptime and bus transport
  - directory index state and size
  - open index cache usage
  - directory change listener counters`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var st *daemon.StatusResult
	client := daemon.NewClient(daemonConfig(cfg))
	if client.IsRunning() {
		st, err = client.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get daemon status: %w", err)
		}
	}

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), !ui.UseColor(cmd.OutOrStdout()))
	if jsonOutput {
		return r.RenderJSON(st)
	}
	return r.Render(st)
}
