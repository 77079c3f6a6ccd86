// Package config handles loading, validating, and writing the ctrlproxy
// server configuration from ~/.ctrlproxy/config.yaml.
//
// The config defines:
//   - Server bind address (host:port)
//   - SQLite database file location
//   - Dashboard toggle
//   - Default secondary-agent model for the WebFetch accept path
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level ctrlproxy configuration.
// Loaded from ~/.ctrlproxy/config.yaml, with sensible defaults for fields
// that are not explicitly set.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Webfetch  WebfetchConfig  `yaml:"webfetch"`
}

// ServerConfig defines where the proxy listens.
// Default: 127.0.0.1:3100 (loopback only — never bind to 0.0.0.0).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig points at the SQLite file backing internal/store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig controls the websocket/JSON dashboard API served
// alongside the proxy.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WebfetchConfig carries the YAML-level fallback for the agent model; the
// prompt templates themselves live in the separate TOML file loaded by
// internal/webfetchcfg, mirroring the upstream project's own config split.
type WebfetchConfig struct {
	AgentModel string `yaml:"agentModel"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. This is normal on first run
			// before `ctrlproxy` interactive setup creates the file.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header. Used by the first-run setup and `ctrlproxy config
// edit` when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# ctrlproxy configuration
#
# server:
#   host: Bind address (default: 127.0.0.1, loopback only)
#   port: Listen port (default: 3100)
#
# database:
#   path: SQLite file holding sessions, filter profiles, and request logs
#
# dashboard:
#   enabled: Serve the pending-approval websocket/JSON API on the same port
#
# webfetch:
#   agentModel: Fallback secondary-agent model id for the Accept path,
#     overridden per-request by ANTHROPIC_DEFAULT_HAIKU_MODEL

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 3100,
		},
		Database: DatabaseConfig{
			Path: "~/.ctrlproxy/ctrlproxy.db",
		},
		Dashboard: DashboardConfig{
			Enabled: true,
		},
		Webfetch: WebfetchConfig{
			AgentModel: "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	return nil
}
