package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "https://api.useautumn.com/v1", cfg.Billing.BaseURL)
	assert.Equal(t, 7, cfg.Availability.LookaheadDays)
	assert.Equal(t, 14, cfg.Availability.ConflictDays)
	assert.Equal(t, 15, cfg.Availability.SlotMinutes)
	assert.Equal(t, "America/New_York", cfg.Availability.DefaultTimezone)
	assert.Equal(t, 2, cfg.Scrape.MaxDepth)
	assert.NotEmpty(t, cfg.Scrape.IncludePaths)
	assert.Equal(t, "https://api.vapi.ai", cfg.Voice.BaseURL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LEADLINE_SERVER_PORT", "9090")
	t.Setenv("LEADLINE_LOG_LEVEL", "debug")
	t.Setenv("LEADLINE_VOICE_WEBHOOK_SECRET", "hook-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "hook-secret", cfg.Voice.WebhookSecret)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "nonsense"})
	require.Error(t, err)
}
