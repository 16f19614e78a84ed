package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.Concurrency != 10 || cfg.Fetch.Timeout != 15*time.Second || cfg.Fetch.Retries != 2 {
		t.Fatalf("unexpected fetch defaults: %+v", cfg.Fetch)
	}
	if cfg.Fetch.RetryDelay != 2*time.Second || cfg.Fetch.PerHostBurst != 1 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Fetch)
	}
	if cfg.Filter.WindowHours != 24 || cfg.Filter.RetentionDays != 7 {
		t.Fatalf("unexpected filter defaults: %+v", cfg.Filter)
	}
	if cfg.Paths.Seen != "seen-guids.json" || cfg.Paths.Sources != "config/feeds.json" {
		t.Fatalf("unexpected path defaults: %+v", cfg.Paths)
	}
	if cfg.Storage.Provider != StorageLocal || cfg.State.Provider != StateStorage {
		t.Fatalf("unexpected provider defaults: %+v %+v", cfg.Storage, cfg.State)
	}
	if cfg.PubSub.Enabled() {
		t.Fatal("pubsub should be disabled by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
fetch:
  concurrency: 4
  timeout: 30s
  retries: 3
  retry_delay: 500ms
  user_agent: digest-bot/2.0
  proxy_url: http://proxy.internal:3128
  per_host_rps: 1.5
  per_host_burst: 2
filter:
  window_hours: 48
  retention_days: 14
storage:
  provider: gcs
  gcs_bucket: digests
  prefix: daily
state:
  provider: postgres
db:
  dsn: postgres://digest@localhost/digest
pubsub:
  project_id: proj
  topic_name: digests
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fetch.Concurrency != 4 || cfg.Fetch.Timeout != 30*time.Second || cfg.Fetch.RetryDelay != 500*time.Millisecond {
		t.Fatalf("expected fetch overrides to apply: %+v", cfg.Fetch)
	}
	if cfg.Fetch.ProxyURL != "http://proxy.internal:3128" || cfg.Fetch.PerHostRPS != 1.5 {
		t.Fatalf("expected proxy and rate overrides: %+v", cfg.Fetch)
	}
	if cfg.Filter.WindowHours != 48 || cfg.Filter.RetentionDays != 14 {
		t.Fatalf("expected filter overrides: %+v", cfg.Filter)
	}
	if cfg.Storage.Provider != StorageGCS || cfg.Storage.Prefix != "daily" {
		t.Fatalf("expected storage overrides: %+v", cfg.Storage)
	}
	if cfg.DB.HealthTable != "feed_health" {
		t.Fatalf("expected default table name to survive, got %q", cfg.DB.HealthTable)
	}
	if !cfg.PubSub.Enabled() || !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected pubsub and logging overrides")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FEEDDIGEST_FETCH_CONCURRENCY", "3")
	t.Setenv("FEEDDIGEST_FILTER_WINDOW_HOURS", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.Concurrency != 3 || cfg.Filter.WindowHours != 12 {
		t.Fatalf("expected env overrides, got %+v %+v", cfg.Fetch, cfg.Filter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid concurrency", func(c *Config) { c.Fetch.Concurrency = 0 }, "fetch.concurrency"},
		{"invalid timeout", func(c *Config) { c.Fetch.Timeout = 0 }, "fetch.timeout"},
		{"invalid retries", func(c *Config) { c.Fetch.Retries = 0 }, "fetch.retries"},
		{"bad proxy", func(c *Config) { c.Fetch.ProxyURL = "not a url" }, "fetch.proxy_url"},
		{"invalid window", func(c *Config) { c.Filter.WindowHours = 0 }, "filter.window_hours"},
		{"unknown storage", func(c *Config) { c.Storage.Provider = "s3" }, "storage.provider"},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = StorageGCS }, "storage.gcs_bucket"},
		{"postgres without dsn", func(c *Config) { c.State.Provider = StatePostgres }, "db.dsn"},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}
