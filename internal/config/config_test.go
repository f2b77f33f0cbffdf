package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Dispatch.SearchRadiusKm != 3.0 {
		t.Errorf("radius = %v", cfg.Dispatch.SearchRadiusKm)
	}
	if cfg.Dispatch.MaxRematchAttempts != 5 {
		t.Errorf("attempts = %d", cfg.Dispatch.MaxRematchAttempts)
	}
	if cfg.Dispatch.Currency != "EUR" {
		t.Errorf("currency = %q", cfg.Dispatch.Currency)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DISPATCH_CONFIG_FILE", "")
	t.Setenv("DISPATCH_MATCH_RADIUS_KM", "5.5")
	t.Setenv("DISPATCH_BACKOFF_INITIAL", "500ms")
	t.Setenv("DISPATCH_REMATCH_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.SearchRadiusKm != 5.5 {
		t.Errorf("radius = %v, want 5.5", cfg.Dispatch.SearchRadiusKm)
	}
	if cfg.Dispatch.BackoffInitial != 500*time.Millisecond {
		t.Errorf("backoff initial = %v", cfg.Dispatch.BackoffInitial)
	}
	// Unparseable values fall back to the default.
	if cfg.Dispatch.MaxRematchAttempts != 5 {
		t.Errorf("attempts = %d, want default 5", cfg.Dispatch.MaxRematchAttempts)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	content := `
http:
  addr: ":9090"
dispatch:
  search_radius_km: 7
  location_freshness: 45s
  currency: TWD
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("DISPATCH_CONFIG_FILE", path)
	t.Setenv("DISPATCH_CURRENCY", "USD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.HTTP.Addr)
	}
	if cfg.Dispatch.SearchRadiusKm != 7 {
		t.Errorf("radius = %v, want 7", cfg.Dispatch.SearchRadiusKm)
	}
	if cfg.Dispatch.LocationFreshness != 45*time.Second {
		t.Errorf("freshness = %v, want 45s", cfg.Dispatch.LocationFreshness)
	}
	if cfg.Dispatch.Currency != "USD" {
		t.Errorf("env must win over file, got %q", cfg.Dispatch.Currency)
	}
	// Values the file does not mention keep their defaults.
	if cfg.Dispatch.MaxRematchAttempts != 5 {
		t.Errorf("attempts = %d, want 5", cfg.Dispatch.MaxRematchAttempts)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.Dispatch.SearchRadiusKm = 0
	cfg.Dispatch.BackoffMax = time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
