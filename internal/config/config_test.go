package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.TypingWindow = Duration{8 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.TypingWindow.Duration != 8*time.Second {
		t.Errorf("TypingWindow = %s, want 8s", loaded.TypingWindow)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("api_url = \"https://chat.example.com/api\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "https://chat.example.com/api" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.ReconnectMax.Duration != 30*time.Second {
		t.Errorf("ReconnectMax = %s, want default 30s", cfg.ReconnectMax)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://api.test")
	t.Setenv(EnvGatewayURL, "wss://gw.test/ws")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIURL != "https://api.test" || cfg.GatewayURL != "wss://gw.test/ws" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad api url", func(c *Config) { c.APIURL = "not a url" }, "APIURL"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"typing window too short", func(c *Config) { c.TypingWindow = Duration{time.Second} }, "typing_window"},
		{"typing window too long", func(c *Config) { c.TypingWindow = Duration{time.Minute} }, "typing_window"},
		{"max below base", func(c *Config) { c.ReconnectMax = Duration{100 * time.Millisecond} }, "reconnect"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "nope" }, "MetricsAddr"},
		{"metrics addr", func(c *Config) { c.MetricsAddr = "127.0.0.1:9464" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
