package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := getDefaultDataDir()
	configDir := getDefaultConfigDir()

	return &Config{
		App: AppConfig{
			Name:        "dafsnode",
			Version:     "0.1.0",
			Environment: "dev",
			DataDir:     dataDir,
			ConfigDir:   configDir,
		},

		Storage: StorageConfig{
			KVDir:           filepath.Join(dataDir, "meta"),
			FilesDir:        filepath.Join(dataDir, "files"),
			SearchIndexPath: filepath.Join(dataDir, "search.db"),
			UploadTmpDir:    filepath.Join(dataDir, "uploads"),
		},

		P2P: P2PConfig{
			ListenPort:     0,
			EnableMDNS:     true,
			EnableDHT:      true,
			BootstrapPeers: []string{},
		},

		Security: SecurityConfig{
			JWTSecret:       generateDefaultJWTSecret(),
			SessionDuration: 24 * time.Hour,

			RateLimitEnabled:     true,
			RateLimitRequests:    10,
			RateLimitInterval:    time.Second,
			RateLimitBurst:       20,
			BruteForceMaxAttempt: 5,
			BruteForceLockout:    15 * time.Minute,
		},

		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			OutputPath:   "stdout",
			ErrorPath:    "stderr",
			EnableCaller: false,
			EnableStack:  true,
		},

		Cache: CacheConfig{
			LRU: LRUConfig{
				Enabled:    true,
				MaxEntries: 10000,
			},
		},
	}
}

// getDefaultDataDir returns the default data directory based on OS.
func getDefaultDataDir() string {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		baseDir = filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default: // linux and others
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("HOME"), ".local", "share")
		}
	}

	return filepath.Join(baseDir, "dafs")
}

// getDefaultConfigDir returns the default config directory based on OS.
func getDefaultConfigDir() string {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		baseDir = filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default: // linux and others
		baseDir = os.Getenv("XDG_CONFIG_HOME")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("HOME"), ".config")
		}
	}

	return filepath.Join(baseDir, "dafs")
}

// generateDefaultJWTSecret generates a default session secret for
// development. In production this MUST be overridden with a secure
// random secret via DAFS_JWT_SECRET.
func generateDefaultJWTSecret() string {
	return "dev-secret-change-me-in-production-min-32-chars-required"
}
