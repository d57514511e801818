// Package config loads the bridge configuration from a JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/pkg/errors"
)

// Config is the top-level configuration for chatbridge.
type Config struct {
	ListenAddr     string        `json:"listen_addr" env:"CHATBRIDGE_LISTEN_ADDR"`         // Relay websocket listen address
	LogLevel       string        `json:"log_level" env:"CHATBRIDGE_LOG_LEVEL"`             // debug, info, warn, error
	CorrelationTTL string        `json:"correlation_ttl" env:"CHATBRIDGE_CORRELATION_TTL"` // Go duration, lifetime of unanswered request entries
	Discord        DiscordConfig `json:"discord"`
}

// DiscordConfig holds Discord bot configuration.
type DiscordConfig struct {
	Token             string   `json:"token" env:"DISCORD_TOKEN"`
	AllowedGuildIDs   []string `json:"allowed_guild_ids" env:"CHATBRIDGE_ALLOWED_GUILD_IDS"`
	AllowedChannelIDs []string `json:"allowed_channel_ids" env:"CHATBRIDGE_ALLOWED_CHANNEL_IDS"`
	AllowedUserIDs    []string `json:"allowed_user_ids" env:"CHATBRIDGE_ALLOWED_USER_IDS"`
}

// LoadConfig loads configuration from a JSON file, then applies environment
// overrides. A missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	case os.IsNotExist(err):
		// Fall through to defaults and environment.
	default:
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to apply environment overrides")
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":8081",
		LogLevel:       "info",
		CorrelationTTL: "30m",
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatbridge", "config.json")
}

// TTL parses CorrelationTTL, falling back to 30 minutes on bad input.
func (c *Config) TTL() time.Duration {
	d, err := time.ParseDuration(c.CorrelationTTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
