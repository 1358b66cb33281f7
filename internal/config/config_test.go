package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DATABASE_URL", "POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
	"SERVER_ADDR", "DATA_DIR", "GATEWAY_URL", "GATEWAY_API_KEY", "SCHEDULER_PERIOD",
	"SCHEDULER_STARTUP_DELAY", "SEND_HOUR", "TIMEZONE", "SEND_DELAY", "RECONNECT_BACKOFF",
	"RECONNECT_MAX_ATTEMPTS", "ADMIN_TOKEN", "SHEET_TIMEOUT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.ServerAddr)
	assert.False(t, cfg.UsePostgres())
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, time.Minute, cfg.SchedulerPeriod)
	assert.Equal(t, 30*time.Second, cfg.SchedulerStartupDelay)
	assert.Equal(t, 9, cfg.SendHour)
	assert.Equal(t, "America/Sao_Paulo", cfg.Location.String())
	assert.Equal(t, 2*time.Second, cfg.SendDelay)
	assert.Equal(t, 5*time.Second, cfg.ReconnectBackoff)
	assert.Equal(t, 0, cfg.ReconnectMaxAttempts)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/relay")
	t.Setenv("SEND_HOUR", "-1")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("SEND_DELAY", "0s")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "5")
	t.Setenv("SCHEDULER_PERIOD", "not-a-duration")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.UsePostgres())
	assert.Equal(t, -1, cfg.SendHour)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, time.Duration(0), cfg.SendDelay)
	assert.Equal(t, 5, cfg.ReconnectMaxAttempts)
	assert.Equal(t, time.Minute, cfg.SchedulerPeriod, "malformed values fall back to the default")
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestLoad_ComposesPostgresURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "relay")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://relay:duerelay@db:5432/duerelay?sslmode=disable", cfg.DatabaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown timezone", key: "TIMEZONE", val: "Mars/Olympus"},
		{name: "send hour too large", key: "SEND_HOUR", val: "24"},
		{name: "negative attempts", key: "RECONNECT_MAX_ATTEMPTS", val: "-2"},
		{name: "zero period", key: "SCHEDULER_PERIOD", val: "0s"},
		{name: "bad log level", key: "LOG_LEVEL", val: "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
