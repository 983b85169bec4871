// Package config provides configuration management for the openapply
// server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the openapply server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string `yaml:"server_addr"`

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// Backend selects the sandbox backend ("memory" by default; concrete
	// remote backends register themselves at wiring time).
	Backend string `yaml:"backend"`

	// SandboxRetention is how long an untouched sandbox survives the
	// cleanup sweep.
	SandboxRetention time.Duration `yaml:"sandbox_retention"`

	// SweepInterval is how often idle sandboxes are reaped.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MorphEnabled gates the targeted-patch pathway for edit requests.
	MorphEnabled bool `yaml:"morph_enabled"`

	// CompletionURL is the endpoint of the missing-import completion
	// service. Empty disables the completion step.
	CompletionURL string `yaml:"completion_url"`

	// InstallerURL is an external package-install service endpoint.
	// Empty installs via npm inside the sandbox.
	InstallerURL string `yaml:"installer_url"`

	// CreateMaxAttempts bounds sandbox-creation retries.
	CreateMaxAttempts int `yaml:"create_max_attempts"`
}

// Load creates a Config from an optional YAML file (OPENAPPLY_CONFIG)
// overlaid with environment variables. Env always wins.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:        ":7090",
		Backend:           "memory",
		SandboxRetention:  20 * time.Minute,
		SweepInterval:     5 * time.Minute,
		MorphEnabled:      true,
		CreateMaxAttempts: 3,
	}

	if path := os.Getenv("OPENAPPLY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ServerAddr = envOr("OPENAPPLY_ADDR", cfg.ServerAddr)
	cfg.Backend = envOr("OPENAPPLY_BACKEND", cfg.Backend)
	cfg.CompletionURL = envOr("OPENAPPLY_COMPLETION_URL", cfg.CompletionURL)
	cfg.InstallerURL = envOr("OPENAPPLY_INSTALLER_URL", cfg.InstallerURL)
	cfg.MorphEnabled = envOrBool("OPENAPPLY_MORPH_ENABLED", cfg.MorphEnabled)
	cfg.CreateMaxAttempts = envOrInt("OPENAPPLY_CREATE_MAX_ATTEMPTS", cfg.CreateMaxAttempts)
	cfg.SandboxRetention = envOrDuration("OPENAPPLY_SANDBOX_RETENTION", cfg.SandboxRetention)
	cfg.SweepInterval = envOrDuration("OPENAPPLY_SWEEP_INTERVAL", cfg.SweepInterval)

	dataDir := envOr("OPENAPPLY_DATA_DIR", cfg.DataDir)
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.DataDir = dataDir
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(dataDir, "openapply.db")
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Backend == "" {
		return fmt.Errorf("sandbox backend is required")
	}
	if c.SandboxRetention <= 0 {
		return fmt.Errorf("sandbox retention must be positive")
	}
	if c.CreateMaxAttempts <= 0 {
		return fmt.Errorf("create max attempts must be positive")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".openapply"
	}
	return filepath.Join(home, ".openapply")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
