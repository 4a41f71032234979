// Package config provides environment-based configuration for the monitor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the monitor.
type Config struct {
	// Database configuration. An empty DSN selects the in-memory registry.
	DatabaseDSN string

	// Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Server configuration
	APIPort int
	APIHost string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Cluster connections
	Connections ConnectionsConfig
}

// ConnectionsConfig controls how cluster connections are loaded and dialed.
type ConnectionsConfig struct {
	// File is the YAML file listing the cluster connections.
	File string
	// AgeIdentity is the age private key used to decrypt encrypted token
	// values. Format: AGE-SECRET-KEY-1...
	AgeIdentity string
	// HTTPTimeout bounds a single cluster API request.
	HTTPTimeout time.Duration
	// StartupMaxElapsed bounds the retries of the initial connection test.
	StartupMaxElapsed time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := LoadWithDefaults()
	cfg.JWTSecret = getEnv("JWT_SECRET", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535")
	}
	if c.Connections.File == "" {
		return fmt.Errorf("CONNECTIONS_FILE is required")
	}
	if c.Connections.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	return &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", ""),
		JWTSecret:       getEnv("JWT_SECRET", "development-secret-key-min-32-chars"),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		Connections: ConnectionsConfig{
			File:              getEnv("CONNECTIONS_FILE", "/etc/pve-monitor/connections.yaml"),
			AgeIdentity:       getEnv("AGE_IDENTITY", ""),
			HTTPTimeout:       getDurationEnv("HTTP_TIMEOUT", 15*time.Second),
			StartupMaxElapsed: getDurationEnv("STARTUP_MAX_ELAPSED", 2*time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
