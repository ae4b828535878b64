package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/indexkeeper/internal/indexable"
)

// Config represents the complete indexkeeper configuration.
type Config struct {
	Version   int                  `yaml:"version" json:"version"`
	Store     StoreConfig          `yaml:"store" json:"store"`
	Cache     CacheConfig          `yaml:"cache" json:"cache"`
	Directory DirectoryConfig      `yaml:"directory" json:"directory"`
	Bus       BusConfig            `yaml:"bus" json:"bus"`
	Types     []indexable.TypeSpec `yaml:"types" json:"types"`
	Daemon    DaemonConfig         `yaml:"daemon" json:"daemon"`
	Logging   LoggingConfig        `yaml:"logging" json:"logging"`
}

// StoreConfig configures where indexes live and how writers behave.
type StoreConfig struct {
	// Root holds every index. Empty keeps indexes in memory.
	Root string `yaml:"root" json:"root"`

	// Writer acquisition: MaxIters attempts, each failure followed by a
	// random pause between MinDelay and MaxDelay.
	MaxIters int           `yaml:"max_iters" json:"max_iters"`
	MinDelay time.Duration `yaml:"min_delay" json:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Optimize force-merges segments on every commit.
	Optimize bool `yaml:"optimize" json:"optimize"`
}

// CacheConfig bounds the per-principal handle cache and the query cache.
type CacheConfig struct {
	Capacity       int `yaml:"capacity" json:"capacity"`
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
	// Concurrency bounds the content types searched at once.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// DirectoryConfig configures the identity directory and its search index.
type DirectoryConfig struct {
	// Database is the identity SQLite file. Empty means <store root>/identities.db.
	Database    string        `yaml:"database" json:"database"`
	IndexName   string        `yaml:"index_name" json:"index_name"`
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
	LockPoll    time.Duration `yaml:"lock_poll" json:"lock_poll"`
	MaxHits     int           `yaml:"max_hits" json:"max_hits"`
}

// BusConfig configures the directory change bus.
type BusConfig struct {
	// Transport is memory, nats or redis.
	Transport       string        `yaml:"transport" json:"transport"`
	URL             string        `yaml:"url" json:"url"`
	Topic           string        `yaml:"topic" json:"topic"`
	ResolveAttempts int           `yaml:"resolve_attempts" json:"resolve_attempts"`
	ResolveDelay    time.Duration `yaml:"resolve_delay" json:"resolve_delay"`
}

// DaemonConfig configures the background service.
type DaemonConfig struct {
	Socket  string `yaml:"socket" json:"socket"`
	PIDFile string `yaml:"pid_file" json:"pid_file"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// Project config file names, in lookup order.
var projectFiles = []string{"indexkeeper.yaml", "indexkeeper.yml"}

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	data := DataDir()
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Root:     filepath.Join(data, "indexes"),
			MaxIters: 10,
			MinDelay: 100 * time.Millisecond,
			MaxDelay: time.Second,
		},
		Cache: CacheConfig{
			Capacity:       64,
			QueryCacheSize: 512,
			Concurrency:    runtime.NumCPU(),
		},
		Directory: DirectoryConfig{
			IndexName:   "directory",
			LockTimeout: 60 * time.Second,
			LockPoll:    500 * time.Millisecond,
			MaxHits:     200,
		},
		Bus: BusConfig{
			Transport:       "memory",
			Topic:           "indexkeeper.directory",
			ResolveAttempts: 5,
			ResolveDelay:    time.Second,
		},
		Types: DefaultTypes(),
		Daemon: DaemonConfig{
			Socket:  filepath.Join(data, "indexkeeper.sock"),
			PIDFile: filepath.Join(data, "indexkeeper.pid"),
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(data, "logs", "server.log"),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultTypes returns the content types available without configuration.
func DefaultTypes() []indexable.TypeSpec {
	return []indexable.TypeSpec{
		{
			Name:     "page",
			Priority: 10,
			Fields: []indexable.FieldSpec{
				{Name: "title", Kind: indexable.KindText, Ngram: true, Store: true, Boost: 2},
				{Name: "body", Kind: indexable.KindText},
				{Name: "tags", Kind: indexable.KindKeyword, Facet: true},
			},
			SuggestField: "title",
		},
		{
			Name:     "snippet",
			Priority: 20,
			Fields: []indexable.FieldSpec{
				{Name: "path", Kind: indexable.KindKeyword, Store: true},
				{Name: "symbols", Kind: indexable.KindCode, Ngram: true, Store: true, Boost: 1.5},
				{Name: "content", Kind: indexable.KindCode},
				{Name: "language", Kind: indexable.KindKeyword, Facet: true},
			},
			SuggestField: "symbols",
		},
	}
}

// DataDir returns the default directory for indexes, sockets and logs.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexkeeper")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "indexkeeper")
	}
	return filepath.Join(home, ".local", "share", "indexkeeper")
}

// GetUserConfigPath returns the path to the user-level config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/indexkeeper/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexkeeper", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "indexkeeper", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexkeeper", "config.yaml")
}

// UserConfigExists reports whether a user-level config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}
	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load builds the configuration for a project directory.
// Precedence, lowest first: defaults, user config, project config
// (indexkeeper.yaml in dir), environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads defaults merged with one explicit file, then env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	var parsed Config
	if err := readYAML(path, &parsed); err != nil {
		return nil, err
	}
	cfg.mergeWith(&parsed)
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromDir(dir string) error {
	for _, name := range projectFiles {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith copies the non-zero values of other into c. A non-empty type
// list replaces the current one.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Store.Root != "" {
		c.Store.Root = other.Store.Root
	}
	if other.Store.MaxIters != 0 {
		c.Store.MaxIters = other.Store.MaxIters
	}
	if other.Store.MinDelay != 0 {
		c.Store.MinDelay = other.Store.MinDelay
	}
	if other.Store.MaxDelay != 0 {
		c.Store.MaxDelay = other.Store.MaxDelay
	}
	if other.Store.Optimize {
		c.Store.Optimize = true
	}

	if other.Cache.Capacity != 0 {
		c.Cache.Capacity = other.Cache.Capacity
	}
	if other.Cache.QueryCacheSize != 0 {
		c.Cache.QueryCacheSize = other.Cache.QueryCacheSize
	}
	if other.Cache.Concurrency != 0 {
		c.Cache.Concurrency = other.Cache.Concurrency
	}

	if other.Directory.Database != "" {
		c.Directory.Database = other.Directory.Database
	}
	if other.Directory.IndexName != "" {
		c.Directory.IndexName = other.Directory.IndexName
	}
	if other.Directory.LockTimeout != 0 {
		c.Directory.LockTimeout = other.Directory.LockTimeout
	}
	if other.Directory.LockPoll != 0 {
		c.Directory.LockPoll = other.Directory.LockPoll
	}
	if other.Directory.MaxHits != 0 {
		c.Directory.MaxHits = other.Directory.MaxHits
	}

	if other.Bus.Transport != "" {
		c.Bus.Transport = other.Bus.Transport
	}
	if other.Bus.URL != "" {
		c.Bus.URL = other.Bus.URL
	}
	if other.Bus.Topic != "" {
		c.Bus.Topic = other.Bus.Topic
	}
	if other.Bus.ResolveAttempts != 0 {
		c.Bus.ResolveAttempts = other.Bus.ResolveAttempts
	}
	if other.Bus.ResolveDelay != 0 {
		c.Bus.ResolveDelay = other.Bus.ResolveDelay
	}

	if len(other.Types) > 0 {
		c.Types = other.Types
	}

	if other.Daemon.Socket != "" {
		c.Daemon.Socket = other.Daemon.Socket
	}
	if other.Daemon.PIDFile != "" {
		c.Daemon.PIDFile = other.Daemon.PIDFile
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies INDEXKEEPER_* environment variables. Values
// that do not parse are ignored.
func (c *Config) applyEnvOverrides() {
	if v, ok := os.LookupEnv("INDEXKEEPER_STORE_ROOT"); ok {
		// Set but empty selects memory indexes.
		c.Store.Root = v
	}
	if v := os.Getenv("INDEXKEEPER_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.Capacity = n
		}
	}
	if v := os.Getenv("INDEXKEEPER_DIRECTORY_DATABASE"); v != "" {
		c.Directory.Database = v
	}
	if v := os.Getenv("INDEXKEEPER_BUS_TRANSPORT"); v != "" {
		c.Bus.Transport = v
	}
	if v := os.Getenv("INDEXKEEPER_BUS_URL"); v != "" {
		c.Bus.URL = v
	}
	if v := os.Getenv("INDEXKEEPER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("INDEXKEEPER_SOCKET"); v != "" {
		c.Daemon.Socket = v
	}
}

// DatabasePath returns the identity database file.
func (c *Config) DatabasePath() string {
	if c.Directory.Database != "" {
		return c.Directory.Database
	}
	if c.Store.Root == "" {
		return filepath.Join(DataDir(), "identities.db")
	}
	return filepath.Join(c.Store.Root, "identities.db")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Store.MaxIters <= 0 {
		return fmt.Errorf("store.max_iters must be positive, got %d", c.Store.MaxIters)
	}
	if c.Store.MinDelay < 0 || c.Store.MaxDelay < c.Store.MinDelay {
		return fmt.Errorf("store.min_delay (%s) must be non-negative and not above store.max_delay (%s)",
			c.Store.MinDelay, c.Store.MaxDelay)
	}

	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.QueryCacheSize < 0 {
		return fmt.Errorf("cache.query_cache_size must be non-negative, got %d", c.Cache.QueryCacheSize)
	}

	if c.Directory.IndexName == "" {
		return fmt.Errorf("directory.index_name is required")
	}
	if c.Directory.LockPoll <= 0 || c.Directory.LockTimeout < c.Directory.LockPoll {
		return fmt.Errorf("directory.lock_poll (%s) must be positive and not above directory.lock_timeout (%s)",
			c.Directory.LockPoll, c.Directory.LockTimeout)
	}

	validTransports := map[string]bool{"memory": true, "nats": true, "redis": true}
	if !validTransports[strings.ToLower(c.Bus.Transport)] {
		return fmt.Errorf("bus.transport must be 'memory', 'nats' or 'redis', got %s", c.Bus.Transport)
	}
	if c.Bus.ResolveAttempts <= 0 {
		return fmt.Errorf("bus.resolve_attempts must be positive, got %d", c.Bus.ResolveAttempts)
	}
	if c.Bus.ResolveDelay < 0 {
		return fmt.Errorf("bus.resolve_delay must be non-negative, got %s", c.Bus.ResolveDelay)
	}

	if len(c.Types) == 0 {
		return fmt.Errorf("at least one content type is required")
	}
	if _, err := indexable.FromSpecs(c.Types); err != nil {
		return fmt.Errorf("types: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
