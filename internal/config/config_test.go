package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "auth:\n  jwt_secret: "+strings.Repeat("s", 32)+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("Addr() = %q, want %q", cfg.Addr(), "0.0.0.0:8080")
	}
	if cfg.Storage.MaxFiles != 10 {
		t.Fatalf("Storage.MaxFiles = %d, want 10", cfg.Storage.MaxFiles)
	}
	if cfg.Presence.Window != 5*time.Minute {
		t.Fatalf("Presence.Window = %s, want 5m", cfg.Presence.Window)
	}
}

func TestLoadEnvOverridesSecret(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9000\n")
	t.Setenv("POLLCHAT_JWT_SECRET", strings.Repeat("e", 40))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != strings.Repeat("e", 40) {
		t.Fatalf("Auth.JWTSecret not taken from environment")
	}
	if cfg.Server.Port != 9000 {
		t.Fatalf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	path := writeFile(t, "auth:\n  jwt_secret: short\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want validation error")
	}
}

func TestLoadClientWithoutFile(t *testing.T) {
	t.Setenv("POLLCHAT_USERNAME", "ann")
	t.Setenv("POLLCHAT_HIGH_WATER_MARK", "41")

	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.Username != "ann" {
		t.Fatalf("Username = %q, want %q", cfg.Username, "ann")
	}
	if cfg.StartHighWaterMark != 41 {
		t.Fatalf("StartHighWaterMark = %d, want 41", cfg.StartHighWaterMark)
	}
	if cfg.PollInterval != 2*time.Second || cfg.ClearCooldown != 10*time.Second || cfg.RefreshDelay != 300*time.Millisecond {
		t.Fatalf("timing defaults = %s/%s/%s", cfg.PollInterval, cfg.ClearCooldown, cfg.RefreshDelay)
	}
}

func TestLoadClientParsesDurations(t *testing.T) {
	path := writeFile(t, "base_url: http://chat.example/api\npoll_interval: 5s\n")

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("PollInterval = %s, want 5s", cfg.PollInterval)
	}
	if cfg.BaseURL != "http://chat.example/api" {
		t.Fatalf("BaseURL = %q", cfg.BaseURL)
	}
}

func TestLoadClientRejectsBadHighWaterMark(t *testing.T) {
	t.Setenv("POLLCHAT_HIGH_WATER_MARK", "abc")

	if _, err := LoadClient(""); err == nil {
		t.Fatal("LoadClient() error = nil, want parse error")
	}
}
