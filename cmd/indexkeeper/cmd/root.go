// Package cmd provides the CLI commands for indexkeeper.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/logging"
	"github.com/Aman-CERP/indexkeeper/internal/profiling"
	"github.com/Aman-CERP/indexkeeper/pkg/version"
)

// NewRootCmd creates the root command for the indexkeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexkeeper",
		Short: "Per-principal search indexes and a replicated identity directory",
		Long: `indexkeeper maintains one full-text index per content type for every
user or group, answers searches across them, and keeps a directory of
identities in sync between processes through a message bus.

Run 'indexkeeper serve' to start the daemon. Other commands talk to the
daemon when it is running and open the indexes directly otherwise.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("indexkeeper version {{.Version}}\n")

	cmd.PersistentFlags().StringP("config", "c", "", "Config file (default: user config, then ./indexkeeper.yaml)")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging to the log file")
	cmd.PersistentFlags().String("log-level", "warn", "Stderr log level: debug, info, warn, error")

	var prof profiling.Options
	cmd.PersistentFlags().StringVar(&prof.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&prof.Mem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&prof.Trace, "profile-trace", "", "Write execution trace to file")

	var loggingCleanup func()
	var profiler *profiling.Profiler
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cleanup, err := startLogging(cmd)
		if err != nil {
			return err
		}
		loggingCleanup = cleanup
		if prof.Enabled() {
			if profiler, err = profiling.Start(prof); err != nil {
				return err
			}
		}
		return nil
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		err := profiler.Stop()
		profiler = nil
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
		return err
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSuggestCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newDirectoryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging routes CLI logs to stderr, and to the log file with --debug.
func startLogging(cmd *cobra.Command) (func(), error) {
	level, _ := cmd.Flags().GetString("log-level")
	cfg := logging.Config{Level: level}
	debug := debugEnabled(cmd)
	if debug {
		cfg = logging.DefaultConfig()
		cfg.Level = "debug"
		cfg.WriteToStderr = false
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	if debug {
		slog.Debug("debug_logging_enabled", slog.String("log_file", cfg.FilePath))
	}
	return cleanup, nil
}

func debugEnabled(cmd *cobra.Command) bool {
	debug, _ := cmd.Flags().GetBool("debug")
	return debug
}

// loadConfig loads the --config file, or the user and project configs.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFile(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.Load(cwd)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
