// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything the livekit server needs at startup.
type Config struct {
	Addr     string `env:"LIVEKIT_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DBPath is the SQLite database backing the notes service.
	DBPath string `env:"LIVEKIT_DB_PATH" envDefault:"file:livekit.db?_pragma=busy_timeout(5000)"`

	PingPeriod time.Duration `env:"LIVEKIT_PING_PERIOD" envDefault:"30s"`
	PongPeriod time.Duration `env:"LIVEKIT_PONG_PERIOD" envDefault:"300s"`

	// ChannelBuffer bounds each event channel subscription queue.
	ChannelBuffer int `env:"LIVEKIT_CHANNEL_BUFFER" envDefault:"256"`

	// OperationTimeout bounds one-shot operations. Zero disables it.
	OperationTimeout time.Duration `env:"LIVEKIT_OPERATION_TIMEOUT" envDefault:"0s"`

	AllowedOrigins []string `env:"LIVEKIT_ALLOWED_ORIGINS" envSeparator:","`
}

// LoadEnv overlays .env files found in the working directory onto the
// process environment.
func LoadEnv(logger *logrus.Logger) {
	files := []string{".env", ".env.dev"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("No local env files loaded; relying on process environment")
	} else {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.PingPeriod <= 0 {
		return fmt.Errorf("ping period must be positive, got %s", c.PingPeriod)
	}
	if c.PongPeriod < c.PingPeriod {
		return fmt.Errorf("pong period %s must not be shorter than ping period %s", c.PongPeriod, c.PingPeriod)
	}
	if c.ChannelBuffer <= 0 {
		return fmt.Errorf("channel buffer must be positive, got %d", c.ChannelBuffer)
	}
	if c.OperationTimeout < 0 {
		return fmt.Errorf("operation timeout must not be negative, got %s", c.OperationTimeout)
	}
	return nil
}

// OriginAllowed reports whether a WebSocket upgrade from origin is accepted.
// An empty allow list accepts everything.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	return false
}
