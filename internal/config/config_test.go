package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("default host: expected 127.0.0.1, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 3100 {
		t.Errorf("default port: expected 3100, got %d", cfg.Server.Port)
	}
	if !cfg.Dashboard.Enabled {
		t.Error("default dashboard: expected true")
	}
	if cfg.Database.Path == "" {
		t.Error("default database path should not be empty")
	}
	if cfg.Webfetch.AgentModel == "" {
		t.Error("default webfetch agent model should not be empty")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  host: "0.0.0.0"
  port: 9090
database:
  path: "/tmp/ctrlproxy.db"
dashboard:
  enabled: false
webfetch:
  agentModel: "claude-haiku-test"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host: expected 0.0.0.0, got %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: expected 9090, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/ctrlproxy.db" {
		t.Errorf("database path: expected /tmp/ctrlproxy.db, got %q", cfg.Database.Path)
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard: expected false")
	}
	if cfg.Webfetch.AgentModel != "claude-haiku-test" {
		t.Errorf("agent model: expected claude-haiku-test, got %q", cfg.Webfetch.AgentModel)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port: expected 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host should be default 127.0.0.1, got %q", cfg.Server.Host)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid",
			cfg:     *applyDefaults(),
			wantErr: false,
		},
		{
			name: "empty host",
			cfg: Config{
				Server:   ServerConfig{Host: "", Port: 3100},
				Database: DatabaseConfig{Path: "x.db"},
			},
			wantErr: true,
		},
		{
			name: "port 0",
			cfg: Config{
				Server:   ServerConfig{Host: "127.0.0.1", Port: 0},
				Database: DatabaseConfig{Path: "x.db"},
			},
			wantErr: true,
		},
		{
			name: "port 65536",
			cfg: Config{
				Server:   ServerConfig{Host: "127.0.0.1", Port: 65536},
				Database: DatabaseConfig{Path: "x.db"},
			},
			wantErr: true,
		},
		{
			name: "empty database path",
			cfg: Config{
				Server:   ServerConfig{Host: "127.0.0.1", Port: 3100},
				Database: DatabaseConfig{Path: ""},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&tt.cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteDefault_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}

	if cfg.Server.Port != 3100 {
		t.Errorf("roundtrip port: expected 3100, got %d", cfg.Server.Port)
	}
	if !cfg.Dashboard.Enabled {
		t.Error("roundtrip dashboard: expected true")
	}
}
