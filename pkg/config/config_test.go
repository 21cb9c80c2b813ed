package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ThrottleWindow != 30*time.Second {
		t.Errorf("Expected 30s throttle window, got %v", cfg.ThrottleWindow)
	}
	if cfg.Cooldown != 5*time.Second || cfg.DedupWindow != 10*time.Second {
		t.Errorf("Unexpected rate limit defaults: %v / %v", cfg.Cooldown, cfg.DedupWindow)
	}
	if cfg.Retention != 24*time.Hour {
		t.Errorf("Expected 24h retention, got %v", cfg.Retention)
	}
	if cfg.HasFix() {
		t.Error("No fix should be configured by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
stream_url: wss://feed.example/diag
opencellid_key: test-key
throttle_window: 1m
block_gsm: true
gps_latitude: 52.52
gps_longitude: 13.405
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StreamURL != "wss://feed.example/diag" {
		t.Errorf("Unexpected stream URL: %q", cfg.StreamURL)
	}
	if cfg.OpenCellIDKey != "test-key" || !cfg.BlockGSM {
		t.Errorf("File values not applied: %+v", cfg)
	}
	if cfg.ThrottleWindow != time.Minute {
		t.Errorf("Expected 1m throttle window, got %v", cfg.ThrottleWindow)
	}
	if !cfg.HasFix() || *cfg.GPSLatitude != 52.52 {
		t.Errorf("Fix not loaded: %+v", cfg.GPSLatitude)
	}
	// Untouched keys keep their defaults.
	if cfg.Cooldown != 5*time.Second {
		t.Errorf("Default cooldown lost: %v", cfg.Cooldown)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("redis_url: redis://file:6379\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CELL_SENTRY_REDIS", "redis://env:6379")
	t.Setenv("CELL_SENTRY_WORKERS", "8")
	t.Setenv("CELL_SENTRY_REJECT_A50", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RedisURL != "redis://env:6379" {
		t.Errorf("Environment should beat the file, got %q", cfg.RedisURL)
	}
	if cfg.Workers != 8 || !cfg.RejectA50 {
		t.Errorf("Environment values not applied: %+v", cfg)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("A named but missing file is an error")
	}
}

func TestBadEnvValueIgnored(t *testing.T) {
	t.Setenv("CELL_SENTRY_THROTTLE_WINDOW", "not-a-duration")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ThrottleWindow != 30*time.Second {
		t.Errorf("Bad env value should leave the default, got %v", cfg.ThrottleWindow)
	}
}
