package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Ingress
	IngressPort    int
	IngressWorkers int
	QueueSize      int
	SkipAuth       bool
	LogBots        bool

	// Ops listener (health + metrics)
	OpsPort int

	// Database URLs
	PostgresURL   string
	RedisURL      string
	ClickHouseURL string

	// Shutdown
	ShutdownGrace time.Duration

	Env string
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		IngressPort:    getEnvInt("INGRESS_PORT", 27500),
		IngressWorkers: getEnvInt("INGRESS_WORKERS", 8),
		QueueSize:      getEnvInt("INGRESS_QUEUE_SIZE", 4096),
		SkipAuth:       getEnvBool("SKIP_AUTH", false),
		LogBots:        getEnvBool("LOG_BOTS", false),

		OpsPort: getEnvInt("OPS_PORT", 8080),

		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", 10*time.Second),

		Env: getEnv("ENV", "development"),
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
		return nil, err
	}

	// Optional backends; empty disables the feature.
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.ClickHouseURL = getEnv("CLICKHOUSE_URL", "")

	return cfg, nil
}

// IsDevelopment reports whether the collector runs in a dev environment,
// where SkipAuth is permitted.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
