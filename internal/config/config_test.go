package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRDIGY_CONFIG_FILE", "")
	t.Setenv("API_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.AccessTTL != 15*time.Minute || cfg.SMTP.Port != "587" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prdigy.yaml")
	contents := `
addr: ":9000"
access_ttl: 5m
cors_origin: https://app.example.com
smtp:
  host: smtp.example.com
  from: noreply@example.com
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PRDIGY_CONFIG_FILE", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("PRDIGY_REFRESH_TTL_SECONDS", "60")
	t.Setenv("PRDIGY_ACCESS_TTL_SECONDS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Errorf("Addr = %q, env must win over file", cfg.Addr)
	}
	if cfg.AccessTTL != 5*time.Minute {
		t.Errorf("AccessTTL = %v, want file value when env is malformed", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != time.Minute {
		t.Errorf("RefreshTTL = %v", cfg.RefreshTTL)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.Port != "587" {
		t.Errorf("SMTP = %+v, file values must merge over defaults", cfg.SMTP)
	}
	if cfg.CORSOrigin != "https://app.example.com" {
		t.Errorf("CORSOrigin = %q", cfg.CORSOrigin)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PRDIGY_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail on malformed yaml")
	}
}
