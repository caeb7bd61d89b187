package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/atomicfile"
)

// Config represents the complete node configuration.
type Config struct {
	// Application settings
	App AppConfig `json:"app"`

	// On-disk storage layout
	Storage StorageConfig `json:"storage"`

	// P2P networking configuration
	P2P P2PConfig `json:"p2p"`

	// Security configuration
	Security SecurityConfig `json:"security"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Cache configuration
	Cache CacheConfig `json:"cache"`
}

// AppConfig contains general application settings.
type AppConfig struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"` // dev, staging, production
	DataDir     string `json:"data_dir"`    // Root directory for node data
	ConfigDir   string `json:"config_dir"`  // Directory for config files
}

// StorageConfig contains the on-disk layout for the node's persistent state.
type StorageConfig struct {
	KVDir           string `json:"kv_dir"`            // Badger metadata store directory
	FilesDir        string `json:"files_dir"`         // Chunked file blob root
	SearchIndexPath string `json:"search_index_path"` // SQLite FTS5 search database
	UploadTmpDir    string `json:"upload_tmp_dir"`    // Resumable-upload chunk staging root
}

// P2PConfig contains P2P networking settings. It mirrors the fields the
// overlay host actually consumes; rendezvous strings and per-request
// timeouts are derived or fixed protocol constants, not configurable.
type P2PConfig struct {
	ListenPort     int      `json:"listen_port"`
	EnableMDNS     bool     `json:"enable_mdns"`
	EnableDHT      bool     `json:"enable_dht"`
	BootstrapPeers []string `json:"bootstrap_peers"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	// Session tokens
	JWTSecret       string        `json:"jwt_secret"`
	SessionDuration time.Duration `json:"session_duration"`

	// Rate limiting
	RateLimitEnabled     bool          `json:"rate_limit_enabled"`
	RateLimitRequests    int           `json:"rate_limit_requests"`    // tokens per interval
	RateLimitInterval    time.Duration `json:"rate_limit_interval"`    // refill interval
	RateLimitBurst       int           `json:"rate_limit_burst"`       // bucket capacity
	BruteForceMaxAttempt int           `json:"brute_force_max_attempt"`
	BruteForceLockout    time.Duration `json:"brute_force_lockout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level        string `json:"level"`         // debug, info, warn, error
	Format       string `json:"format"`        // json, console
	OutputPath   string `json:"output_path"`   // file path or stdout
	ErrorPath    string `json:"error_path"`    // error log file
	EnableCaller bool   `json:"enable_caller"` // Include caller in logs
	EnableStack  bool   `json:"enable_stack"`  // Include stack trace for errors
}

// CacheConfig contains cache settings.
type CacheConfig struct {
	LRU LRUConfig `json:"lru"`
}

// LRUConfig contains in-memory LRU cache settings, used for search-result
// caching.
type LRUConfig struct {
	Enabled    bool `json:"enabled"`
	MaxEntries int  `json:"max_entries"`
}

// Load loads configuration from file and environment variables.
// Priority: env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if err := cfg.Save(configPath); err != nil {
					return nil, fmt.Errorf("failed to create default config: %w", err)
				}
			} else {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overrides configuration with environment variables.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("DAFS_ENV"); v != "" {
		c.App.Environment = v
	}
	if v := os.Getenv("DAFS_DATA_DIR"); v != "" {
		c.App.DataDir = v
	}

	if v := os.Getenv("DAFS_JWT_SECRET"); v != "" {
		c.Security.JWTSecret = v
	}

	if v := os.Getenv("DAFS_BOOTSTRAP_PEERS"); v != "" {
		c.P2P.BootstrapPeers = append(c.P2P.BootstrapPeers, v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Save saves configuration to a JSON file. The write is atomic: a reader
// (or a node crashing mid-write) never observes a truncated config file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomicfile.Write(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app name cannot be empty")
	}
	if c.App.Environment != "dev" && c.App.Environment != "staging" && c.App.Environment != "production" {
		return fmt.Errorf("invalid environment: %s (must be dev, staging, or production)", c.App.Environment)
	}

	if c.Storage.KVDir == "" {
		return errors.New("storage kv_dir cannot be empty")
	}
	if c.Storage.FilesDir == "" {
		return errors.New("storage files_dir cannot be empty")
	}
	if c.Storage.SearchIndexPath == "" {
		return errors.New("storage search_index_path cannot be empty")
	}
	if c.Storage.UploadTmpDir == "" {
		return errors.New("storage upload_tmp_dir cannot be empty")
	}

	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return fmt.Errorf("invalid p2p listen port: %d", c.P2P.ListenPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.App.Environment == "production" && len(c.Security.JWTSecret) < 32 {
		return errors.New("JWT secret must be at least 32 characters in production")
	}

	return nil
}

// GetLogLevel returns the zerolog level based on configuration.
func (c *Config) GetLogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "dev"
}
