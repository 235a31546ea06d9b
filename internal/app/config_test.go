package app

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/dcops/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Second, cfg.OrderLockTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, time.Hour, cfg.ReindexInterval)
	require.Equal(t, 6*time.Hour, cfg.OverdueInterval)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("ORDER_LOCK_TTL", "-1s")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("ORDER_LOCK_TTL", "0s")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DEFAULT_FC_ID", "12")
	t.Setenv("ORDER_LOCK_TTL", "0s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.EqualValues(t, 12, cfg.DefaultFCID)
	require.Zero(t, cfg.OrderLockTTL)
}

func TestLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelInfo, logLevel(nil))
	require.Equal(t, slog.LevelDebug, logLevel(&Config{LogLevel: "DEBUG"}))
	require.Equal(t, slog.LevelWarn, logLevel(&Config{LogLevel: "warn"}))
	require.Equal(t, slog.LevelInfo, logLevel(&Config{LogLevel: "chatty"}))
	require.NotNil(t, NewLogger(&Config{LogFormat: "json", LogLevel: "error"}))
}

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}
