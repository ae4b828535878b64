package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config and data dirs at temp dirs and clears
// INDEXKEEPER_* overrides for the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	for _, k := range []string{
		"INDEXKEEPER_CACHE_CAPACITY", "INDEXKEEPER_DIRECTORY_DATABASE",
		"INDEXKEEPER_BUS_TRANSPORT", "INDEXKEEPER_BUS_URL",
		"INDEXKEEPER_LOG_LEVEL", "INDEXKEEPER_SOCKET",
	} {
		t.Setenv(k, "")
	}
	// LookupEnv distinguishes set-but-empty, so unset the root outright.
	t.Setenv("INDEXKEEPER_STORE_ROOT", "")
	require.NoError(t, os.Unsetenv("INDEXKEEPER_STORE_ROOT"))
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// =============================================================================
// Defaults
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	home := isolate(t)

	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: all defaults should be applied
	require.NotNil(t, cfg)
	assert.Equal(t, 1, cfg.Version)

	assert.Equal(t, filepath.Join(home, "data", "indexkeeper", "indexes"), cfg.Store.Root)
	assert.Equal(t, 10, cfg.Store.MaxIters)
	assert.Equal(t, 100*time.Millisecond, cfg.Store.MinDelay)
	assert.Equal(t, time.Second, cfg.Store.MaxDelay)
	assert.False(t, cfg.Store.Optimize)

	assert.Equal(t, 64, cfg.Cache.Capacity)
	assert.Equal(t, 512, cfg.Cache.QueryCacheSize)
	assert.Equal(t, runtime.NumCPU(), cfg.Cache.Concurrency)

	assert.Equal(t, "directory", cfg.Directory.IndexName)
	assert.Equal(t, 60*time.Second, cfg.Directory.LockTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Directory.LockPoll)

	assert.Equal(t, "memory", cfg.Bus.Transport)
	assert.Equal(t, "indexkeeper.directory", cfg.Bus.Topic)
	assert.Equal(t, 5, cfg.Bus.ResolveAttempts)
	assert.Equal(t, time.Second, cfg.Bus.ResolveDelay)

	assert.Equal(t, "info", cfg.Logging.Level)
	require.Len(t, cfg.Types, 2)
	assert.NoError(t, cfg.Validate())
}

func TestDatabasePath(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	assert.Equal(t, filepath.Join(cfg.Store.Root, "identities.db"), cfg.DatabasePath())

	cfg.Directory.Database = "/srv/ids.db"
	assert.Equal(t, "/srv/ids.db", cfg.DatabasePath())

	cfg.Directory.Database = ""
	cfg.Store.Root = ""
	assert.Equal(t, filepath.Join(DataDir(), "identities.db"), cfg.DatabasePath())
}

// =============================================================================
// Loading and precedence
// =============================================================================

func TestLoad_NoFilesReturnsDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Store, cfg.Store)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "indexkeeper.yaml"), `
store:
  root: /var/lib/ik
  min_delay: 5ms
  max_delay: 20ms
cache:
  capacity: 8
bus:
  transport: nats
  url: nats://localhost:4222
types:
  - name: ticket
    fields:
      - name: summary
        ngram: true
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ik", cfg.Store.Root)
	assert.Equal(t, 5*time.Millisecond, cfg.Store.MinDelay)
	assert.Equal(t, 20*time.Millisecond, cfg.Store.MaxDelay)
	assert.Equal(t, 10, cfg.Store.MaxIters, "unset fields keep defaults")
	assert.Equal(t, 8, cfg.Cache.Capacity)
	assert.Equal(t, "nats", cfg.Bus.Transport)
	require.Len(t, cfg.Types, 1, "a type list replaces the defaults")
	assert.Equal(t, "ticket", cfg.Types[0].Name)
}

func TestLoad_YmlExtension(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "indexkeeper.yml"), "cache:\n  capacity: 3\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Cache.Capacity)
}

func TestLoad_UserThenProjectThenEnv(t *testing.T) {
	isolate(t)
	writeFile(t, GetUserConfigPath(), `
cache:
  capacity: 16
  query_cache_size: 32
logging:
  level: debug
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "indexkeeper.yaml"), "cache:\n  capacity: 24\n")
	t.Setenv("INDEXKEEPER_LOG_LEVEL", "warn")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Cache.Capacity, "project beats user")
	assert.Equal(t, 32, cfg.Cache.QueryCacheSize, "user beats defaults")
	assert.Equal(t, "warn", cfg.Logging.Level, "env beats everything")
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("INDEXKEEPER_STORE_ROOT", "")
	t.Setenv("INDEXKEEPER_CACHE_CAPACITY", "7")
	t.Setenv("INDEXKEEPER_BUS_TRANSPORT", "redis")
	t.Setenv("INDEXKEEPER_BUS_URL", "redis://localhost:6379/0")
	t.Setenv("INDEXKEEPER_DIRECTORY_DATABASE", "/tmp/ids.db")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.Store.Root, "set-but-empty root selects memory indexes")
	assert.Equal(t, 7, cfg.Cache.Capacity)
	assert.Equal(t, "redis", cfg.Bus.Transport)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Bus.URL)
	assert.Equal(t, "/tmp/ids.db", cfg.DatabasePath())
}

func TestLoad_InvalidEnvNumberIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("INDEXKEEPER_CACHE_CAPACITY", "many")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Cache.Capacity)
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "indexkeeper.yaml"), "cache: [unclosed\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "indexkeeper.yaml"), "bus:\n  transport: carrier-pigeon\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.transport")
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "directory:\n  index_name: people\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "people", cfg.Directory.IndexName)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero max iters", func(c *Config) { c.Store.MaxIters = 0 }, "store.max_iters"},
		{"inverted delays", func(c *Config) { c.Store.MinDelay = 2 * time.Second }, "store.min_delay"},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }, "cache.capacity"},
		{"negative query cache", func(c *Config) { c.Cache.QueryCacheSize = -1 }, "cache.query_cache_size"},
		{"empty index name", func(c *Config) { c.Directory.IndexName = "" }, "directory.index_name"},
		{"poll above timeout", func(c *Config) { c.Directory.LockPoll = 2 * time.Minute }, "directory.lock_poll"},
		{"unknown transport", func(c *Config) { c.Bus.Transport = "kafka" }, "bus.transport"},
		{"zero resolve attempts", func(c *Config) { c.Bus.ResolveAttempts = 0 }, "bus.resolve_attempts"},
		{"no types", func(c *Config) { c.Types = nil }, "content type"},
		{"duplicate types", func(c *Config) { c.Types = append(c.Types, c.Types[0]) }, "duplicate"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_TransportAndLevelCaseInsensitive(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Bus.Transport = "NATS"
	cfg.Logging.Level = "DEBUG"
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Writing
// =============================================================================

func TestWriteYAML_RoundTripsThroughLoadFile(t *testing.T) {
	isolate(t)
	cfg := NewConfig()
	cfg.Cache.Capacity = 9
	cfg.Bus.ResolveDelay = 250 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Cache.Capacity)
	assert.Equal(t, 250*time.Millisecond, loaded.Bus.ResolveDelay)
	assert.Equal(t, cfg.Types, loaded.Types)
}

func TestGetUserConfigPath_UsesXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "indexkeeper", "config.yaml"), GetUserConfigPath())
}
