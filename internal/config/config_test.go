package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "BID_COST", "BID_STEP", "JWT_SECRET", "APP_ENV", "CACHE_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, "auction.events", cfg.AMQPExchange)
	assert.True(t, cfg.BidCost.Equal(decimal.NewFromInt(50)))
	assert.True(t, cfg.BidStep.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 10, cfg.CountdownReset)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.TopUpMinAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "KZT", cfg.TopUpCurrency)
	assert.Equal(t, "demo", cfg.PaymentPublicID)
	assert.True(t, cfg.LoyaltyNoble.Equal(decimal.NewFromInt(50000)))
	assert.True(t, cfg.LoyaltyMonarch.Equal(decimal.NewFromInt(150000)))
	assert.Equal(t, DevJWTSecret, cfg.JWTSecret)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("BID_COST", "25.5")
	t.Setenv("COUNTDOWN_RESET_SECONDS", "15")
	t.Setenv("BID_RATE_WINDOW", "2s")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.BidCost.Equal(decimal.RequireFromString("25.5")))
	assert.Equal(t, 15, cfg.CountdownReset)
	assert.Equal(t, 2*time.Second, cfg.BidRateWindow)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoad_Malformed(t *testing.T) {
	tests := map[string]string{
		"BID_COST":                "fifty",
		"COUNTDOWN_RESET_SECONDS": "ten",
		"CACHE_TTL":               "forever",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("BID_STEP", "0")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "BID_STEP")
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "DEBUG"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "warn"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "nonsense"}).SlogLevel())
}
