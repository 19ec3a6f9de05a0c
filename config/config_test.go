package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "creator-queue-", cfg.TopicPrefix)
	assert.Equal(t, 5*time.Minute, cfg.HoldGrace)
	assert.Equal(t, 30*time.Second, cfg.HoldSweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.MediaTokenTTL)
	assert.True(t, cfg.SkipValue.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, 20, cfg.SMSRatePerMinute)
	assert.Equal(t, "/join/%s", cfg.FanQueuePath)
	assert.True(t, cfg.EnableMetrics)
	assert.True(t, cfg.LegacyTopicSunset.IsZero())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("HOLD_GRACE", "90s")
	t.Setenv("SMS_RATE_PER_MINUTE", "5")
	t.Setenv("LEGACY_TOPIC_SUNSET", "2026-12-31T00:00:00Z")
	t.Setenv("SKIP_VALUE", "0.25")
	t.Setenv("ENABLE_METRICS", "false")
	t.Setenv("MEDIA_MODE", "JWT")

	cfg := LoadConfig()

	assert.Equal(t, 90*time.Second, cfg.HoldGrace)
	assert.Equal(t, 5, cfg.SMSRatePerMinute)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), cfg.LegacyTopicSunset.UTC())
	assert.True(t, cfg.SkipValue.Equal(decimal.RequireFromString("0.25")))
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, "jwt", cfg.MediaMode)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("HOLD_GRACE", "soon")
	t.Setenv("SKIP_VALUE", "-1")
	t.Setenv("LEGACY_TOPIC_SUNSET", "next tuesday")

	cfg := LoadConfig()

	assert.Equal(t, 5*time.Minute, cfg.HoldGrace)
	assert.True(t, cfg.SkipValue.Equal(decimal.RequireFromString("0.10")))
	assert.True(t, cfg.LegacyTopicSunset.IsZero())
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "consult.yaml")
	require.NoError(t, os.WriteFile(file, []byte("TOPIC_PREFIX: cq-\nHOLD_GRACE: 2m\n"), 0o600))
	t.Setenv("CONFIG_FILE", file)

	cfg := LoadConfig()

	assert.Equal(t, "cq-", cfg.TopicPrefix)
	assert.Equal(t, 2*time.Minute, cfg.HoldGrace)
}

func TestConfig_LegacyTopicsOpen(t *testing.T) {
	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{LegacyTopicSunset: cutoff}

	assert.True(t, cfg.LegacyTopicsOpen(cutoff.Add(-time.Hour)))
	assert.False(t, cfg.LegacyTopicsOpen(cutoff))
	assert.True(t, (&Config{}).LegacyTopicsOpen(cutoff))
}
