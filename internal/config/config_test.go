package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/crewcall/internal/platform"
	"github.com/sakif/crewcall/internal/reconciler"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	v.Set("BACKEND_URL", "http://localhost:54321")
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := FromViper(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, platform.Native, cfg.Kind())
	assert.Equal(t, reconciler.CorroborateOnWeb, cfg.Policy())
	assert.Equal(t, 20, cfg.URLPolicy().Attempts)
	assert.Equal(t, 120*time.Millisecond, cfg.URLPolicy().Interval)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "crewcall://auth/callback", cfg.RedirectURL)
	assert.False(t, cfg.StorageEnabled())
}

func TestFromViper_Overrides(t *testing.T) {
	cfg, err := FromViper(newViper(map[string]any{
		"PLATFORM":          "Web",
		"RECOVERY_POLICY":   "always-corroborate",
		"URL_POLL_INTERVAL": "50ms",
		"LOG_LEVEL":         "debug",
		"STORAGE_ENDPOINT":  "http://localhost:9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, platform.Web, cfg.Kind())
	assert.Equal(t, reconciler.AlwaysCorroborate, cfg.Policy())
	assert.Equal(t, 50*time.Millisecond, cfg.URLPollInterval)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.True(t, cfg.StorageEnabled())
	assert.Equal(t, "avatars", cfg.Storage().Bucket)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
	}{
		{"missing backend", map[string]any{"BACKEND_URL": ""}},
		{"relative backend", map[string]any{"BACKEND_URL": "/api"}},
		{"unknown platform", map[string]any{"PLATFORM": "desktop"}},
		{"unknown policy", map[string]any{"RECOVERY_POLICY": "maybe"}},
		{"zero attempts", map[string]any{"URL_POLL_ATTEMPTS": 0}},
		{"short jwt secret", map[string]any{"JWT_SECRET": "short"}},
		{"short device secret", map[string]any{"DEVICE_SECRET": "short"}},
		{"paywall without price", map[string]any{"PAYWALL_ENABLED": true}},
		{"bad log level", map[string]any{"LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromViper(newViper(tt.values))
			assert.Error(t, err)
		})
	}
}
