// Package config loads waymark configuration from YAML files and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/waymarklabs/waymark/internal/errors"
)

const (
	// WaymarkDir is the project-local dot directory.
	WaymarkDir = ".waymark"
	// ConfigFileName is the config file inside WaymarkDir.
	ConfigFileName = "config.yaml"
	// DBFileName is the SQLite database file inside WaymarkDir.
	DBFileName = "waymark.db"
)

// Config is the full waymark configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Database DatabaseConfig `yaml:"database"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the storage backend. Path is used for sqlite, DSN
// for postgres.
type DatabaseConfig struct {
	Dialect string `yaml:"dialect"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn,omitempty"`
}

// CleanupConfig controls stale-workflow cleanup.
type CleanupConfig struct {
	StaleThresholdHours int `yaml:"stale_threshold_hours"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Dialect: "sqlite",
			Path:    filepath.Join(WaymarkDir, DBFileName),
		},
		Cleanup: CleanupConfig{
			StaleThresholdHours: 24,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DSN returns the connection string for the configured dialect.
func (c *Config) DSN() string {
	if c.Database.Dialect == "postgres" {
		return c.Database.DSN
	}
	return c.Database.Path
}

// Validate checks the configuration for values the rest of the system cannot
// work with.
func (c *Config) Validate() error {
	switch c.Database.Dialect {
	case "sqlite", "postgres":
	default:
		return errors.ErrConfigInvalid("database.dialect",
			fmt.Sprintf("%q is not a supported dialect (sqlite, postgres)", c.Database.Dialect))
	}
	if c.Database.Dialect == "postgres" && c.Database.DSN == "" {
		return errors.ErrConfigInvalid("database.dsn", "required when dialect is postgres")
	}
	if c.Cleanup.StaleThresholdHours < 0 {
		return errors.ErrConfigInvalid("cleanup.stale_threshold_hours", "must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.ErrConfigInvalid("log.level",
			fmt.Sprintf("%q is not a log level (debug, info, warn, error)", c.Log.Level))
	}
	return nil
}

// Write saves the configuration as YAML, creating the parent directory if
// needed.
func (c *Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
