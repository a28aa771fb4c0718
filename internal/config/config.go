// Package config loads engine configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no caching

	ProviderURL     string // market-data provider base URL
	ProviderTimeout time.Duration
	CacheTTL        time.Duration

	CronEnabled   bool
	CronSchedule  string // six-field cron spec
	RunTimeout    time.Duration
	LookupWorkers int
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		ProviderURL:     getEnv("PROVIDER_URL", ""),
		ProviderTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
		CacheTTL:        getEnvAsDuration("CACHE_TTL", time.Hour),
		CronEnabled:     getEnvAsBool("CRON_ENABLED", true),
		// The upstream system ran this weekdays at 01:00, after settlement.
		CronSchedule:  getEnv("CRON_SCHEDULE", "0 0 1 * * MON-FRI"),
		RunTimeout:    getEnvAsDuration("RUN_TIMEOUT", 15*time.Minute),
		LookupWorkers: getEnvAsInt("LOOKUP_WORKERS", 4),
		RetryAttempts: getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryBackoff:  getEnvAsDuration("RETRY_BACKOFF", 100*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required configuration.
func (c *Config) Validate() error {
	if c.ProviderURL == "" {
		return fmt.Errorf("PROVIDER_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
