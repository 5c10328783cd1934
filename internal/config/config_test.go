package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE", "")
	t.Setenv("CANCEL_WINDOW", "")
	t.Setenv("RESUME_SWEEP_INTERVAL", "")
	t.Setenv("CREATE_RATE_PER_MINUTE", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 48*time.Hour, cfg.CancelWindow)
	assert.Equal(t, time.Minute, cfg.ResumeSweepInterval)
	assert.Equal(t, 10, cfg.CreatesPerMinute)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE", "Memory")
	t.Setenv("CANCEL_WINDOW", "24h")
	t.Setenv("CREATE_RATE_PER_MINUTE", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 24*time.Hour, cfg.CancelWindow)
	assert.Equal(t, 3, cfg.CreatesPerMinute)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"missing secret": {"JWT_SECRET", ""},
		"unknown store":  {"STORE", "redis"},
		"bad window":     {"CANCEL_WINDOW", "two days"},
		"bad rate":       {"CREATE_RATE_PER_MINUTE", "many"},
		"bad level":      {"LOG_LEVEL", "loud"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
