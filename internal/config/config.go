// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// DevJWTSecret is the fallback signing secret for local runs.
const DevJWTSecret = "dev-secret-change-me"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	// Server
	Port     string
	LogLevel string
	Env      string

	// Storage; an empty DatabaseURL runs on the in-memory store.
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// Events
	AMQPURL      string
	AMQPExchange string

	// Auth
	JWTSecret string

	// Bidding
	BidCost        decimal.Decimal
	BidStep        decimal.Decimal
	CountdownReset int
	BidRateLimit   int
	BidRateWindow  time.Duration

	// Wallet
	TopUpMinAmount   decimal.Decimal
	TopUpCurrency    string
	PaymentPublicID  string
	PaymentAPISecret string

	// Loyalty
	LoyaltyNoble   decimal.Decimal
	LoyaltyMonarch decimal.Decimal
}

func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("APP_ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "auction.events"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		TopUpCurrency:    getEnv("TOPUP_CURRENCY", "KZT"),
		PaymentPublicID:  getEnv("PAYMENT_PUBLIC_ID", "demo"),
		PaymentAPISecret: getEnv("PAYMENT_API_SECRET", ""),
	}

	var err error
	if cfg.CacheTTL, err = getEnvDuration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.BidCost, err = getEnvDecimal("BID_COST", "50"); err != nil {
		return nil, err
	}
	if cfg.BidStep, err = getEnvDecimal("BID_STEP", "50"); err != nil {
		return nil, err
	}
	if cfg.CountdownReset, err = getEnvInt("COUNTDOWN_RESET_SECONDS", 10); err != nil {
		return nil, err
	}
	if cfg.BidRateLimit, err = getEnvInt("BID_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.BidRateWindow, err = getEnvDuration("BID_RATE_WINDOW", time.Second); err != nil {
		return nil, err
	}
	if cfg.TopUpMinAmount, err = getEnvDecimal("TOPUP_MIN_AMOUNT", "100"); err != nil {
		return nil, err
	}
	if cfg.LoyaltyNoble, err = getEnvDecimal("LOYALTY_NOBLE_THRESHOLD", "50000"); err != nil {
		return nil, err
	}
	if cfg.LoyaltyMonarch, err = getEnvDecimal("LOYALTY_MONARCH_THRESHOLD", "150000"); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.JWTSecret = DevJWTSecret
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in a development env.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "test"
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if !c.BidCost.IsPositive() {
		problems = append(problems, "BID_COST must be positive")
	}
	if !c.BidStep.IsPositive() {
		problems = append(problems, "BID_STEP must be positive")
	}
	if c.CountdownReset <= 0 {
		problems = append(problems, "COUNTDOWN_RESET_SECONDS must be positive")
	}
	if !c.TopUpMinAmount.IsPositive() {
		problems = append(problems, "TOPUP_MIN_AMOUNT must be positive")
	}
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required outside development")
	}
	if c.BidRateLimit < 0 {
		problems = append(problems, "BID_RATE_LIMIT must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, raw)
	}
	return v, nil
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	raw := getEnv(key, defaultValue)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, raw)
	}
	return v, nil
}
