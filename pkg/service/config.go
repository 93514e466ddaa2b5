package service

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the substrate service's configuration, read from the
// environment. Both external tiers are optional: with neither configured the
// store runs on the in-process fallback tier alone.
type Config struct {
	LogLevel string
	HTTPPort string

	// RedisURL enables the fast cache tier, e.g. redis://localhost:6379/0.
	RedisURL string

	// DatabaseURL enables the Postgres durable tier. When unset and
	// SQLitePath is set, SQLite serves as the durable tier instead.
	DatabaseURL string
	SQLitePath  string

	// CleanupInterval drives the periodic expired-entry sweep.
	CleanupInterval time.Duration
}

// LoadConfig reads configuration from environment variables, loading a .env
// file first when present (development convenience).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPPort:        getEnv("SUBSTRATE_HTTP_PORT", ":8080"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		CleanupInterval: 5 * time.Minute,
	}
	if raw := os.Getenv("CLEANUP_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CLEANUP_INTERVAL %q: %w", raw, err)
		}
		cfg.CleanupInterval = interval
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
