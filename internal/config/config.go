// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

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

	// Escrow settings
	PlatformFeeBps  uint16 // Platform fee in basis points, applied to recipient releases
	TreasuryAddress string // Address credited with platform fees
	TokenMint       string // Default token identifier for escrows

	// Dispute settings
	Arbitrators []string // Addresses authorized to resolve disputes

	// Auction settings
	MinRevealDelaySeconds int64 // Earliest reveal after commit
	MaxRevealDelaySeconds int64 // Latest reveal after commit

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint for traces (empty = disabled)
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultPlatformFeeBps = 250 // 2.5%
	DefaultMinRevealDelay = 60
	DefaultMaxRevealDelay = 300
	DefaultTokenMint      = "USDC"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:           os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PlatformFeeBps:        uint16(getEnvInt64("PLATFORM_FEE_BPS", DefaultPlatformFeeBps)),
		TreasuryAddress:       os.Getenv("TREASURY_ADDRESS"),
		TokenMint:             getEnv("TOKEN_MINT", DefaultTokenMint),
		Arbitrators:           splitList(os.Getenv("ARBITRATORS")),
		MinRevealDelaySeconds: getEnvInt64("MIN_REVEAL_DELAY_SECONDS", DefaultMinRevealDelay),
		MaxRevealDelaySeconds: getEnvInt64("MAX_REVEAL_DELAY_SECONDS", DefaultMaxRevealDelay),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.TreasuryAddress == "" {
		return fmt.Errorf("TREASURY_ADDRESS is required")
	}

	if c.PlatformFeeBps > 10_000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be at most 10000 (100%%)")
	}

	if c.MinRevealDelaySeconds < 0 || c.MaxRevealDelaySeconds <= c.MinRevealDelaySeconds {
		return fmt.Errorf("reveal window is invalid: min=%d max=%d", c.MinRevealDelaySeconds, c.MaxRevealDelaySeconds)
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

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
