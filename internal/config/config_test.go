package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaults(t *testing.T) {
	// Point at an environment with no config file; Load warns and keeps
	// every default.
	t.Setenv("CONFIG_ENV", "nonexistent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "./web", cfg.StaticPath)
	assert.Equal(t, int64(65536), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, "change_me", cfg.Secret)
	assert.Equal(t, 5.0, cfg.ChatRate)
	assert.Equal(t, 10, cfg.ChatBurst)
}
