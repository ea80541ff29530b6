// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	SMTP      SMTPConfig
	Retention RetentionConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	// URL is the full connection string. Required: the process must not
	// start without a reachable mail store.
	URL string `validate:"required"`
}

// SMTPConfig holds SMTP listener configuration
type SMTPConfig struct {
	Port     int    `validate:"gt=0,lte=65535"`
	Hostname string `validate:"required"`
	// AcceptedDomain restricts RCPT TO to one recipient domain when set.
	// Empty means open mode: mail for any domain is accepted.
	AcceptedDomain    string
	MaxConnections    int           `validate:"gt=0"`
	ConnectionTimeout time.Duration `validate:"gt=0"`
	MaxMessageSize    int64         `validate:"gt=0"`
	MaxRecipients     int           `validate:"gt=0"`
}

// RetentionConfig holds the expiry sweep configuration
type RetentionConfig struct {
	// Days is the retention window; records older than this are purged.
	Days int `validate:"gt=0"`
	// SweepInterval is the cadence of the retention sweeper.
	SweepInterval time.Duration `validate:"gt=0"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables and validates it.
// A missing DATABASE_URL is a startup failure, not a runtime one.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		SMTP: SMTPConfig{
			Port:              getIntEnv("SMTP_PORT", 2525),
			Hostname:          getEnv("SMTP_HOSTNAME", "dispomail.local"),
			AcceptedDomain:    getEnv("ACCEPTED_DOMAIN", ""),
			MaxConnections:    getIntEnv("SMTP_MAX_CONNECTIONS", 100),
			ConnectionTimeout: getDurationEnv("SMTP_CONNECTION_TIMEOUT", 5*time.Minute),
			MaxMessageSize:    getInt64Env("SMTP_MAX_MESSAGE_SIZE", 25*1024*1024),
			MaxRecipients:     getIntEnv("SMTP_MAX_RECIPIENTS", 100),
		},
		Retention: RetentionConfig{
			Days:          getIntEnv("RETENTION_DAYS", 7),
			SweepInterval: getDurationEnv("SWEEP_INTERVAL", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns integer from environment variable or default
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getInt64Env returns int64 from environment variable or default
func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Accepts Go duration strings ("1h30m") or a bare number of minutes.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}
