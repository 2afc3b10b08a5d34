// Package config layers fieldsync client settings: FIELDSYNC_* environment
// variables override the per-workdir .fieldsync/config.json file, which
// overrides built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the per-workdir client configuration.
type Config struct {
	ServerURL string `json:"server_url"`
	TenantID  string `json:"tenant_id"`
	APIKey    string `json:"api_key,omitempty"`
}

const (
	configDir        = ".fieldsync"
	configFile       = "config.json"
	defaultServerURL = "http://localhost:8080"
)

// Dir returns the .fieldsync directory under baseDir.
func Dir(baseDir string) string {
	return filepath.Join(baseDir, configDir)
}

// Load reads the config file under baseDir. A missing file yields an empty
// config, not an error.
func Load(baseDir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(Dir(baseDir), configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config file under baseDir, creating the directory.
func Save(baseDir string, cfg *Config) error {
	dir := Dir(baseDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, configFile), data, 0644)
}

// ServerURL returns the sync server URL.
// Priority: FIELDSYNC_SERVER_URL env > config.json > default.
func ServerURL(baseDir string) string {
	if v := os.Getenv("FIELDSYNC_SERVER_URL"); v != "" {
		return v
	}
	cfg, err := Load(baseDir)
	if err == nil && cfg.ServerURL != "" {
		return cfg.ServerURL
	}
	return defaultServerURL
}

// TenantID returns the tenant identifier sent with every request.
// Priority: FIELDSYNC_TENANT env > config.json > "default".
func TenantID(baseDir string) string {
	if v := os.Getenv("FIELDSYNC_TENANT"); v != "" {
		return v
	}
	cfg, err := Load(baseDir)
	if err == nil && cfg.TenantID != "" {
		return cfg.TenantID
	}
	return "default"
}

// APIKey returns the bearer token, empty when unauthenticated.
// Priority: FIELDSYNC_AUTH_KEY env > config.json.
func APIKey(baseDir string) string {
	if v := os.Getenv("FIELDSYNC_AUTH_KEY"); v != "" {
		return v
	}
	cfg, err := Load(baseDir)
	if err == nil {
		return cfg.APIKey
	}
	return ""
}

// WatchInterval returns the connectivity probe interval for `fieldsync watch`.
// Priority: FIELDSYNC_WATCH_INTERVAL env > 15s.
func WatchInterval() time.Duration {
	if v := os.Getenv("FIELDSYNC_WATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 15 * time.Second
}
