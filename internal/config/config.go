// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	TokenSecret string
	AdminToken  string
	AMQPURL     string // empty disables ledger event export
	GracePeriod time.Duration
	BillingTick time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/consultations.db"),
		TokenSecret: getEnv("TOKEN_SECRET", ""),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
		AMQPURL:     getEnv("AMQP_URL", ""),
		GracePeriod: time.Duration(getEnvInt("GRACE_PERIOD_SECONDS", 60)) * time.Second,
		BillingTick: time.Duration(getEnvInt("BILLING_TICK_SECONDS", 1)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET cannot be empty")
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("GRACE_PERIOD_SECONDS must be > 0")
	}
	if c.BillingTick <= 0 {
		return fmt.Errorf("BILLING_TICK_SECONDS must be > 0")
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
