// Package config loads environment variables into a typed Config used across the service,
// and reads the channel file that decides which channels are logged and where.
// It applies sensible defaults so the binary can run locally with minimal setup.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// DefaultConfigPath is the channel file read when GHOST_CONFIG is unset.
const DefaultConfigPath = "config.yaml"

// DefaultHTTPAddr is the health/metrics listener address when HTTP_ADDR is unset.
const DefaultHTTPAddr = ":8080"

type Config struct {
	// Channel file
	ConfigPath string

	// Twitch
	TwitchBotUsername string
	TwitchOAuthToken  string
	TwitchIRCAddress  string

	// HTTP (empty disables the listener)
	HTTPAddr string

	// Database archive (empty disables it)
	DBDsn string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads environment variables and applies defaults. Missing Twitch credentials select an
// anonymous read-only login; a missing DB_DSN disables the Postgres archive.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ConfigPath = os.Getenv("GHOST_CONFIG")
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = DefaultConfigPath
	}

	// Twitch
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchIRCAddress = os.Getenv("TWITCH_IRC_ADDRESS")
	if cfg.TwitchIRCAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.TwitchIRCAddress); err != nil {
			return nil, fmt.Errorf("invalid TWITCH_IRC_ADDRESS (host:port): %w", err)
		}
	}

	// HTTP
	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	switch strings.ToLower(cfg.HTTPAddr) {
	case "":
		cfg.HTTPAddr = DefaultHTTPAddr
	case "off", "none", "disabled":
		cfg.HTTPAddr = ""
	}

	// DB
	cfg.DBDsn = os.Getenv("DB_DSN")

	// Logging
	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	cfg.LogFormat = strings.ToLower(os.Getenv("LOG_FORMAT"))

	return cfg, nil
}

// Anonymous reports whether the chat connection logs in without credentials.
func (c *Config) Anonymous() bool {
	return c.TwitchBotUsername == "" || c.TwitchOAuthToken == ""
}

// ArchiveEnabled reports whether records are mirrored into Postgres.
func (c *Config) ArchiveEnabled() bool {
	return c.DBDsn != ""
}
