package api

import (
	"os"
	"strconv"
	"time"

	"github.com/mainteno/fieldsync/internal/idempotency"
)

// Config holds server settings, populated from the environment.
type Config struct {
	ListenAddr      string
	DBPath          string
	LogLevel        string
	LogFormat       string
	IdempotencyTTL  time.Duration
	ShutdownTimeout time.Duration
}

// LoadConfig reads server configuration from FIELDSYNC_SERVER_* env vars.
func LoadConfig() Config {
	cfg := Config{
		ListenAddr:      envOr("FIELDSYNC_SERVER_ADDR", ":8080"),
		DBPath:          envOr("FIELDSYNC_SERVER_DB", "fieldsync-server.db"),
		LogLevel:        envOr("FIELDSYNC_SERVER_LOG_LEVEL", "info"),
		LogFormat:       envOr("FIELDSYNC_SERVER_LOG_FORMAT", "json"),
		IdempotencyTTL:  idempotency.DefaultTTL,
		ShutdownTimeout: 10 * time.Second,
	}

	if v := os.Getenv("FIELDSYNC_SERVER_IDEMPOTENCY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.IdempotencyTTL = d
		}
	}
	if v := os.Getenv("FIELDSYNC_SERVER_SHUTDOWN_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ShutdownTimeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
