package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Daemon runs a Server under a PID file.
type Daemon struct {
	cfg    Config
	pid    *PIDFile
	server *Server
}

// New creates a daemon serving h.
func New(cfg Config, h Handler) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	srv := NewServer(cfg.SocketPath, h)
	srv.SetTimeout(cfg.Timeout)
	return &Daemon{cfg: cfg, pid: NewPIDFile(cfg.PIDPath), server: srv}, nil
}

// Run serves until ctx is cancelled. It fails with ErrAlreadyRunning when
// another daemon owns the PID file.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pid.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := d.pid.Remove(); err != nil {
			slog.Warn("pid_file_remove_failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("daemon_started",
		slog.String("socket", d.cfg.SocketPath),
		slog.String("pid_file", d.cfg.PIDPath))

	done := make(chan error, 1)
	go func() { done <- d.server.ListenAndServe(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		select {
		case err = <-done:
		case <-time.After(d.cfg.ShutdownGracePeriod):
			slog.Warn("daemon_shutdown_timeout", slog.Duration("grace", d.cfg.ShutdownGracePeriod))
			err = ctx.Err()
		}
	}

	slog.Info("daemon_stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
