// Package config holds the importer's configuration: image root,
// index URL, HTTP client timeout, and logging, loaded from an optional
// JSON file with environment/flag overlay applied by cmd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global importer configuration.
type Config struct {
	// RootDir is the image store root; spec section 6 defaults this to
	// /var/lib/machines.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// IndexURL is the registry index base URL.
	IndexURL string `json:"index_url" mapstructure:"index_url"`
	// HTTPTimeout bounds every registry request (spec section 5's
	// "timeouts are delegated to the HTTP client configuration").
	HTTPTimeout time.Duration `json:"http_timeout" mapstructure:"http_timeout"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:     "/var/lib/machines",
		IndexURL:    "https://index.docker.io",
		HTTPTimeout: 30 * time.Second,
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return cfg, nil
}

// EnsureDirs creates the root directory and the directory holding the
// cross-process pull lock.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.RootDir, 0o750); err != nil {
		return fmt.Errorf("create root dir %s: %w", c.RootDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.LockPath()), 0o750); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.RefIndexFile()), 0o750); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	return nil
}

// LockPath is the flock file guarding concurrent pulls into RootDir,
// per spec section 5's "Shared resources" guarantee.
func (c *Config) LockPath() string {
	return filepath.Join(c.RootDir, ".dkrimport.lock")
}

// RefIndexFile and RefIndexLock locate the name:tag -> image id index
// `list`/`inspect`/`rm` read and write, following the same db/ layout
// the teacher uses for its own image indexes.
func (c *Config) RefIndexFile() string { return filepath.Join(c.RootDir, "db", "refs.json") }
func (c *Config) RefIndexLock() string { return filepath.Join(c.RootDir, "db", "refs.lock") }
