// Package config handles loading and managing archiver configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	BindAddr string `toml:"bind_addr"` // listen address (default: 127.0.0.1)
	Port     int    `toml:"port"`      // listen port (default: 8080)
	// BaseURL is the advertised URL prefix for self links, e.g.
	// "https://archive.example.com". Empty derives it from each request's
	// Host header.
	BaseURL         string   `toml:"base_url"`
	CORSOrigins     []string `toml:"cors_origins"` // empty disables CORS
	CORSCredentials bool     `toml:"cors_credentials"`
	CORSMaxAge      int      `toml:"cors_max_age"`
	RateLimitRPS    float64  `toml:"rate_limit_rps"`
	RateLimitBurst  int      `toml:"rate_limit_burst"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	// URL is a connection URL or DSN. Empty falls back to the libpq
	// environment (PGHOST, PGDATABASE, ...).
	URL      string `toml:"url"`
	MaxConns int    `toml:"max_conns"`
	MinConns int    `toml:"min_conns"`
}

// AuthConfig holds bearer-token configuration.
type AuthConfig struct {
	Secret      string `toml:"secret"`          // HS256 shared secret
	TokenTTLHrs int    `toml:"token_ttl_hours"` // TTL for minted tokens (default: 720)
}

// DeliveryConfig tunes the streaming feed.
type DeliveryConfig struct {
	WaitTimeoutSecs int `toml:"wait_timeout_seconds"` // notification wait window (default: 60)
}

// JanitorConfig controls the background purge of unreferenced mail.
type JanitorConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`       // cron expression (default: "0 3 * * *")
	RetentionDays int    `toml:"retention_days"` // minimum age before purge (default: 30)
}

// Config represents the archiver configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Delivery DeliveryConfig `toml:"delivery"`
	Janitor  JanitorConfig  `toml:"janitor"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DefaultHome returns the default archiver home directory.
// Respects the ARCHIVER_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("ARCHIVER_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".archiver"
	}
	return filepath.Join(home, ".archiver")
}

// Load reads the configuration from the specified file. An empty path uses
// <home>/config.toml; an empty home uses DefaultHome(). The file is
// optional; defaults apply when it is absent.
func Load(path, home string) (*Config, error) {
	if home == "" {
		home = DefaultHome()
	}
	if path == "" {
		path = filepath.Join(home, "config.toml")
	}

	cfg := &Config{
		HomeDir: home,
		// Defaults
		Server: ServerConfig{
			BindAddr:       "127.0.0.1",
			Port:           8080,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Auth: AuthConfig{
			TokenTTLHrs: 720,
		},
		Delivery: DeliveryConfig{
			WaitTimeoutSecs: 60,
		},
		Janitor: JanitorConfig{
			Schedule:      "0 3 * * *",
			RetentionDays: 30,
		},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Database.URL = expandPath(cfg.Database.URL)
	return cfg, nil
}

// ConfigFilePath returns the path of the config file inside the home
// directory.
func (c *Config) ConfigFilePath() string {
	return filepath.Join(c.HomeDir, "config.toml")
}

// EnsureHomeDir creates the home directory if it does not exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.HomeDir, 0o700)
}

// ValidateAuth checks the parts of the configuration the token-verifying
// surfaces cannot run without.
func (c *Config) ValidateAuth() error {
	if c.Auth.Secret == "" {
		return errors.New("no [auth] secret configured - set one in " + c.ConfigFilePath())
	}
	return nil
}

// WaitTimeout returns the configured notification wait window.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.Delivery.WaitTimeoutSecs) * time.Second
}

// TokenTTL returns the configured lifetime for minted tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHrs) * time.Hour
}

// Retention returns the janitor's minimum mail age before purge.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Janitor.RetentionDays) * 24 * time.Hour
}

// expandPath expands a leading ~ to the user's home directory. Connection
// URLs pass through untouched.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
