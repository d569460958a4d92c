// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const devTokenSecret = "cbt-research-development-secret"

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	StoreDriver      string
	DBPath           string
	DatabaseURL      string
	RedisURL         string
	TokenSecret      string
	TokenTTL         time.Duration
	FlowIdleTTL      time.Duration
	SubmitRatePerMin int
	GRPCPort         string
	TelemetryEnabled bool
	StudyFile        string
	Log              LogConfig
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string
	File  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		DBPath:           getEnv("DB_PATH", "./data/research.db"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		TokenSecret:      getEnv("TOKEN_SECRET", ""),
		TokenTTL:         getEnvDuration("TOKEN_TTL", 12*time.Hour),
		FlowIdleTTL:      getEnvDuration("FLOW_IDLE_TTL", 2*time.Hour),
		SubmitRatePerMin: getEnvInt("SUBMIT_RATE_PER_MIN", 10),
		GRPCPort:         getEnv("GRPC_PORT", ""),
		TelemetryEnabled: getEnvBool("TELEMETRY_ENABLED", false),
		StudyFile:        getEnv("STUDY_FILE", ""),
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if cfg.TokenSecret == "" && cfg.IsDevelopment() {
		cfg.TokenSecret = devTokenSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	switch c.StoreDriver {
	case "sqlite":
		if c.DBPath == "" {
			return errors.New("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite or postgres, got %q", c.StoreDriver)
	}
	if c.TokenSecret == "" {
		return errors.New("TOKEN_SECRET is required outside development")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be > 0")
	}
	if c.FlowIdleTTL <= 0 {
		return errors.New("FLOW_IDLE_TTL must be > 0")
	}
	if c.SubmitRatePerMin <= 0 {
		return errors.New("SUBMIT_RATE_PER_MIN must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
