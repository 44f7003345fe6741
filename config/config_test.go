package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.PingPeriod)
	assert.Equal(t, 300*time.Second, cfg.PongPeriod)
	assert.Equal(t, 256, cfg.ChannelBuffer)
	assert.Zero(t, cfg.OperationTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LIVEKIT_ADDR", ":9999")
	t.Setenv("LIVEKIT_CHANNEL_BUFFER", "8")
	t.Setenv("LIVEKIT_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 8, cfg.ChannelBuffer)
	assert.True(t, cfg.OriginAllowed("http://b.test"))
	assert.False(t, cfg.OriginAllowed("http://c.test"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero ping", func(c *Config) { c.PingPeriod = 0 }, true},
		{"pong shorter than ping", func(c *Config) { c.PongPeriod = time.Second }, true},
		{"zero buffer", func(c *Config) { c.ChannelBuffer = 0 }, true},
		{"negative timeout", func(c *Config) { c.OperationTimeout = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				PingPeriod:    30 * time.Second,
				PongPeriod:    300 * time.Second,
				ChannelBuffer: 16,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOriginAllowedEmptyList(t *testing.T) {
	cfg := &Config{}
	assert.True(t, cfg.OriginAllowed("http://anything.test"))
}
