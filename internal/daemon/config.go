// Package daemon runs indexkeeper as a background service answering
// JSON-RPC 2.0 requests on a Unix socket, so CLI commands reuse the open
// indexes instead of reopening them on every invocation.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	PIDPath string

	// Timeout is the maximum duration for one client request.
	Timeout time.Duration

	// ShutdownGracePeriod bounds the wait for in-flight requests on shutdown.
	ShutdownGracePeriod time.Duration

	// IdleCompaction is the quiet period after the last write to an index
	// before its segments are merged. Zero disables compaction.
	IdleCompaction time.Duration

	// CompactionCooldown is the minimum time between two compactions of
	// one index.
	CompactionCooldown time.Duration
}

// DefaultConfig returns a Config with the default paths under dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		SocketPath:          filepath.Join(dataDir, "indexkeeper.sock"),
		PIDPath:             filepath.Join(dataDir, "indexkeeper.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		IdleCompaction:      time.Minute,
		CompactionCooldown:  10 * time.Minute,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.IdleCompaction < 0 || c.CompactionCooldown < 0 {
		return fmt.Errorf("compaction durations must not be negative")
	}
	return nil
}

// EnsureDir creates the directories for the socket and PID files.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create daemon directory %s: %w", dir, err)
		}
	}
	return nil
}
