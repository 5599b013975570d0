package common

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("API_URL", "https://api.example.com/")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("UPLOAD_MAX_BYTES", "1048576")
	t.Setenv("UPLOAD_ALLOWED_TYPES", "application/pdf, text/plain")

	cfg := LoadConfig()
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Fatalf("base url not trimmed: %q", cfg.API.BaseURL)
	}
	if cfg.Poll.Interval != 2*time.Second {
		t.Fatalf("interval = %v", cfg.Poll.Interval)
	}
	if cfg.Upload.MaxBytes != 1<<20 {
		t.Fatalf("max bytes = %d", cfg.Upload.MaxBytes)
	}
	set := cfg.Upload.AllowedTypeSet()
	if _, ok := set["text/plain"]; !ok || len(set) != 2 {
		t.Fatalf("allowed types = %v", set)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("API_URL", "ftp://nope")
	cfg := LoadConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}

	cfg = LoadConfig()
	cfg.API.BaseURL = "http://localhost:8000"
	cfg.Poll.Concurrency = 0
	if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestBadEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	if got := LoadConfig().Poll.Interval; got != 5*time.Second {
		t.Fatalf("interval = %v", got)
	}
}
