package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/waymarklabs/waymark/internal/errors"
)

// Load builds the effective configuration. Load order, later sources
// overriding earlier ones:
//  1. Built-in defaults
//  2. User config (~/.waymark/config.yaml) - optional
//  3. Project config (.waymark/config.yaml, or the explicit path) - optional
//  4. Environment variables (WAYMARK_*)
//
// A broken user config is warned about and skipped; a broken project config
// is fatal.
func Load(path string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, WaymarkDir, ConfigFileName)
		if _, err := os.Stat(userPath); err == nil {
			if err := mergeFromFile(cfg, userPath); err != nil {
				slog.Warn("failed to load user config", "path", userPath, "error", err)
			}
		}
	}

	if path == "" {
		path = filepath.Join(WaymarkDir, ConfigFileName)
	}
	if _, err := os.Stat(path); err == nil {
		if err := mergeFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromFile overlays one YAML file onto cfg. Only keys present in the
// file change; yaml unmarshals into the existing struct, so absent keys keep
// their current values.
func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.ErrConfigInvalid(path, err.Error())
	}
	return nil
}

// applyEnvVars overlays WAYMARK_* environment variables.
func applyEnvVars(cfg *Config) {
	if v := os.Getenv("WAYMARK_DB_DIALECT"); v != "" {
		cfg.Database.Dialect = v
	}
	if v := os.Getenv("WAYMARK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WAYMARK_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("WAYMARK_STALE_THRESHOLD_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cleanup.StaleThresholdHours = n
		} else {
			slog.Warn("ignoring non-numeric WAYMARK_STALE_THRESHOLD_HOURS", "value", v)
		}
	}
	if v := os.Getenv("WAYMARK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WAYMARK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}
