package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/logging"
	"github.com/Aman-CERP/indexkeeper/internal/service"
	"github.com/Aman-CERP/indexkeeper/pkg/version"
)

type serveOptions struct {
	socket          string
	compactIdle     time.Duration
	compactCooldown time.Duration
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the indexkeeper daemon in the foreground",
		Long: `Run the daemon: open the indexes, subscribe to directory changes on the
configured bus, and answer JSON-RPC requests on the Unix socket until
interrupted.

Logs go to the configured log file and to stderr.

Examples:
  indexkeeper serve
  indexkeeper serve --compact-idle 0          # disable idle compaction
  indexkeeper serve -c /etc/indexkeeper.yaml`,
		Args: cobra.NoArgs,
		// serve configures logging from the config file itself.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	defaults := daemon.DefaultConfig("")
	cmd.Flags().StringVar(&opts.socket, "socket", "", "Unix socket path (overrides config)")
	cmd.Flags().DurationVar(&opts.compactIdle, "compact-idle", defaults.IdleCompaction, "Quiet period before an index is compacted (0 disables)")
	cmd.Flags().DurationVar(&opts.compactCooldown, "compact-cooldown", defaults.CompactionCooldown, "Minimum time between compactions of one index")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: true,
	}
	if debugEnabled(cmd) {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	dcfg := daemonConfig(cfg)
	if opts.socket != "" {
		dcfg.SocketPath = opts.socket
	}
	dcfg.IdleCompaction = opts.compactIdle
	dcfg.CompactionCooldown = opts.compactCooldown

	svc, err := service.New(ctx, cfg, service.WithCompaction(dcfg.IdleCompaction, dcfg.CompactionCooldown))
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("service_close_failed", slog.String("error", err.Error()))
		}
	}()
	svc.Start(ctx)

	d, err := daemon.New(dcfg, svc)
	if err != nil {
		return err
	}

	slog.Info("daemon_starting",
		slog.String("version", version.Short()),
		slog.String("socket", dcfg.SocketPath),
		slog.String("transport", cfg.Bus.Transport),
		slog.Duration("compact_idle", dcfg.IdleCompaction))
	return d.Run(ctx)
}
