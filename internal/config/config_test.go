package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setDevMode(t *testing.T) {
	t.Helper()
	t.Setenv("VITALSYNC_DEV_MODE", "true")
}

func TestLoad_Defaults(t *testing.T) {
	setDevMode(t)
	t.Setenv("VITALSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sync.PullLimit != 250 {
		t.Errorf("PullLimit = %d, want 250", cfg.Sync.PullLimit)
	}
	if cfg.Sync.PushLimit != 50 {
		t.Errorf("PushLimit = %d, want 50", cfg.Sync.PushLimit)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Sync.MaxRetries)
	}
	if time.Duration(cfg.Sync.Interval) != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m", time.Duration(cfg.Sync.Interval))
	}
}

func TestLoadFromFile_YAMLAndEnvPrecedence(t *testing.T) {
	setDevMode(t)

	path := filepath.Join(t.TempDir(), "vitalsync.yaml")
	yaml := `
server:
  port: 9090
sync:
  interval: 5m
  pull_limit: 100
upstream:
  base_url: https://sync.example.org
  timeout: 90s
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	// Env overrides the file.
	t.Setenv("VITALSYNC_PULL_LIMIT", "25")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from YAML", cfg.Server.Port)
	}
	if time.Duration(cfg.Sync.Interval) != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m from YAML", time.Duration(cfg.Sync.Interval))
	}
	if cfg.Sync.PullLimit != 25 {
		t.Errorf("PullLimit = %d, want 25 from env", cfg.Sync.PullLimit)
	}
	if cfg.Upstream.BaseURL != "https://sync.example.org" {
		t.Errorf("BaseURL = %s", cfg.Upstream.BaseURL)
	}
	if time.Duration(cfg.Upstream.Timeout) != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", time.Duration(cfg.Upstream.Timeout))
	}
}

func TestLoad_FilterValueFallsBackToTeamID(t *testing.T) {
	setDevMode(t)
	t.Setenv("VITALSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("VITALSYNC_TEAM_ID", "team-42")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.FilterKey != "teamId" {
		t.Errorf("FilterKey = %s, want teamId", cfg.Upstream.FilterKey)
	}
	if cfg.Upstream.FilterValue != "team-42" {
		t.Errorf("FilterValue = %s, want team-42 from team id", cfg.Upstream.FilterValue)
	}

	// An explicit filter value wins over the fallback.
	t.Setenv("VITALSYNC_FILTER_VALUE", "clinic-9")
	cfg, err = Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Upstream.FilterValue != "clinic-9" {
		t.Errorf("FilterValue = %s, want clinic-9", cfg.Upstream.FilterValue)
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	setDevMode(t)

	path := filepath.Join(t.TempDir(), "vitalsync.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  interval: often\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestValidate_RequiresUpstreamOutsideDevMode(t *testing.T) {
	t.Setenv("VITALSYNC_DEV_MODE", "")
	t.Setenv("VITALSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("VITALSYNC_UPSTREAM_URL", "")
	t.Setenv("VITALSYNC_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when upstream URL is missing")
	}

	t.Setenv("VITALSYNC_UPSTREAM_URL", "https://sync.example.org")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when API key is missing")
	}

	t.Setenv("VITALSYNC_API_KEY", "k")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsBadLimits(t *testing.T) {
	setDevMode(t)

	path := filepath.Join(t.TempDir(), "vitalsync.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  pull_limit: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for pull_limit 0")
	}
}
