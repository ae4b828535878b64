package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/logging"
	"github.com/Aman-CERP/indexkeeper/internal/ui"
)

type logsOptions struct {
	lines   int
	follow  bool
	level   string
	pattern string
	file    string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		Long: `Print the last lines of the daemon log, optionally following new records.

Examples:
  indexkeeper logs -n 100
  indexkeeper logs -f --level warn
  indexkeeper logs --pattern directory_`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow new log records")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level: debug, info, warn, error")
	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Only show lines matching this regular expression")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file (default: the configured log file)")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, opts logsOptions) error {
	path := opts.file
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.Logging.File
	}
	if path == "" {
		path = logging.DefaultLogPath()
	}

	vcfg := logging.ViewerConfig{
		Level:   opts.level,
		NoColor: !ui.UseColor(cmd.OutOrStdout()),
	}
	if opts.pattern != "" {
		re, err := regexp.Compile(opts.pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		vcfg.Pattern = re
	}
	viewer := logging.NewViewer(vcfg, cmd.OutOrStdout())

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch := make(chan logging.Entry)
	errc := make(chan error, 1)
	go func() { errc <- viewer.Follow(ctx, path, ch) }()
	for {
		select {
		case e := <-ch:
			viewer.Print([]logging.Entry{e})
		case err := <-errc:
			return err
		}
	}
}
