package store

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds Postgres connection and pool parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN builds a libpq-style connection string pgx's stdlib driver accepts.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoadConfigFromEnv loads Config from OTHALA_DB_* environment variables,
// applying production-ready pool defaults.
func LoadConfigFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("OTHALA_DB_PORT", "5432"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid OTHALA_DB_PORT: %w", err)
	}
	maxOpen, err := strconv.Atoi(getEnvOrDefault("OTHALA_DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid OTHALA_DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := strconv.Atoi(getEnvOrDefault("OTHALA_DB_MAX_IDLE_CONNS", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid OTHALA_DB_MAX_IDLE_CONNS: %w", err)
	}
	maxLifetime, err := time.ParseDuration(getEnvOrDefault("OTHALA_DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid OTHALA_DB_CONN_MAX_LIFETIME: %w", err)
	}
	maxIdleTime, err := time.ParseDuration(getEnvOrDefault("OTHALA_DB_CONN_MAX_IDLE_TIME", "15m"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid OTHALA_DB_CONN_MAX_IDLE_TIME: %w", err)
	}

	cfg := Config{
		Host:            getEnvOrDefault("OTHALA_DB_HOST", "localhost"),
		Port:            port,
		User:            getEnvOrDefault("OTHALA_DB_USER", "othala"),
		Password:        os.Getenv("OTHALA_DB_PASSWORD"),
		Database:        getEnvOrDefault("OTHALA_DB_NAME", "othala"),
		SSLMode:         getEnvOrDefault("OTHALA_DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: maxLifetime,
		ConnMaxIdleTime: maxIdleTime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects pool configurations that cannot work.
func (c Config) Validate() error {
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("OTHALA_DB_MAX_OPEN_CONNS must be at least 1")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("OTHALA_DB_MAX_IDLE_CONNS cannot be negative")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("OTHALA_DB_MAX_IDLE_CONNS (%d) cannot exceed OTHALA_DB_MAX_OPEN_CONNS (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
