// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Redis URL for the history cache (optional)

	HistoryCacheTTL time.Duration

	// ReputationSnapshotInterval is how often reputation grades are stored
	// for history. Zero disables the snapshot worker.
	ReputationSnapshotInterval time.Duration

	// Sample dataset
	SeedFixtures bool
	FixturesFile string // YAML file overriding the embedded dataset

	// Security
	RateLimitRPM   int
	RateLimitBurst int
	AllowedOrigins []string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultRateLimit       = 120
	DefaultRateLimitBurst  = 20
	DefaultHistoryCacheTTL = 30 * time.Second
	DefaultSnapshotEvery   = time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                       getEnv("PORT", DefaultPort),
		Env:                        getEnv("ENV", DefaultEnv),
		LogLevel:                   getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                  getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RedisURL:                   os.Getenv("REDIS_URL"),
		HistoryCacheTTL:            getEnvDuration("HISTORY_CACHE_TTL", DefaultHistoryCacheTTL),
		ReputationSnapshotInterval: getEnvDuration("REPUTATION_SNAPSHOT_INTERVAL", DefaultSnapshotEvery),
		SeedFixtures:               getEnvBool("SEED_FIXTURES", true),
		FixturesFile:               os.Getenv("FIXTURES_FILE"),
		RateLimitRPM:               int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		RateLimitBurst:             int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		AllowedOrigins:             getEnvList("ALLOWED_ORIGINS"),
		OTLPEndpoint:               os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive")
	}
	if c.HistoryCacheTTL < 0 {
		return fmt.Errorf("HISTORY_CACHE_TTL must not be negative")
	}
	if c.ReputationSnapshotInterval < 0 {
		return fmt.Errorf("REPUTATION_SNAPSHOT_INTERVAL must not be negative")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
