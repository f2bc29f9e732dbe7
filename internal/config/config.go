// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Token signing
	JWTSecret  string
	PartialTTL time.Duration // validity of tokens minted before step-up
	FullTTL    time.Duration // validity of tokens minted after step-up

	// Lockout policy
	MaxLoginAttempts int
	LockoutDuration  time.Duration

	// Transaction thresholds
	StepUpThreshold   float64 // amounts above this require a step-up verified token
	ApprovalThreshold float64 // amounts above this route to manual approval

	// Step-up authenticator
	TOTPIssuer string

	// Rate limiting (requests per minute per client)
	AuthRateLimit        int
	TransactionRateLimit int
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultPartialTTL        = 24 * time.Hour
	DefaultFullTTL           = 12 * time.Hour
	DefaultMaxLoginAttempts  = 5
	DefaultLockoutDuration   = 30 * time.Minute
	DefaultStepUpThreshold   = 1000
	DefaultApprovalThreshold = 5000
	DefaultTOTPIssuer        = "txgate"
	DefaultAuthRateLimit     = 20
	DefaultTxRateLimit       = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		JWTSecret:            os.Getenv("JWT_SECRET"),   // Required, no default
		PartialTTL:           getEnvDuration("TOKEN_PARTIAL_TTL", DefaultPartialTTL),
		FullTTL:              getEnvDuration("TOKEN_FULL_TTL", DefaultFullTTL),
		MaxLoginAttempts:     getEnvInt("MAX_LOGIN_ATTEMPTS", DefaultMaxLoginAttempts),
		LockoutDuration:      getEnvDuration("LOCKOUT_DURATION", DefaultLockoutDuration),
		StepUpThreshold:      getEnvFloat("STEPUP_THRESHOLD", DefaultStepUpThreshold),
		ApprovalThreshold:    getEnvFloat("APPROVAL_THRESHOLD", DefaultApprovalThreshold),
		TOTPIssuer:           getEnv("TOTP_ISSUER", DefaultTOTPIssuer),
		AuthRateLimit:        getEnvInt("AUTH_RATE_LIMIT", DefaultAuthRateLimit),
		TransactionRateLimit: getEnvInt("TX_RATE_LIMIT", DefaultTxRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}
	if c.MaxLoginAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be >= 1")
	}
	if c.StepUpThreshold < 0 || c.ApprovalThreshold < 0 {
		return fmt.Errorf("thresholds must be non-negative")
	}
	if c.StepUpThreshold > c.ApprovalThreshold {
		return fmt.Errorf("STEPUP_THRESHOLD must not exceed APPROVAL_THRESHOLD")
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
