package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

// TestLoadDefaults verifies an empty config file yields working defaults
func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "# empty\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Probe.PollInterval != 15*time.Second {
		t.Errorf("Expected default poll interval 15s, got %v", cfg.Probe.PollInterval)
	}
	if cfg.Cache.StaleAfter != 30*time.Second {
		t.Errorf("Expected default stale_after 30s, got %v", cfg.Cache.StaleAfter)
	}
	if cfg.Cache.GCAfter != 24*time.Hour {
		t.Errorf("Expected default gc_after 24h, got %v", cfg.Cache.GCAfter)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("Expected default max_retries 3, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Expected default file backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Observability.Logging.Level != "info" {
		t.Errorf("Expected default info level, got %s", cfg.Observability.Logging.Level)
	}

	t.Log("✓ Defaults produce a valid configuration")
}

// TestLoadOverrides verifies file values override defaults
func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
probe:
  url: https://example.com/ping
  poll_interval: 5s
cache:
  stale_after: 10s
  gc_after: 1h
queue:
  max_retries: 5
storage:
  backend: redis
redis:
  address: redis.internal:6379
remote:
  base_url: https://api.example.com
  routes:
    post.create: /posts
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Probe.URL != "https://example.com/ping" {
		t.Errorf("Unexpected probe URL: %s", cfg.Probe.URL)
	}
	if cfg.Probe.PollInterval != 5*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.Probe.PollInterval)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("Unexpected max retries: %d", cfg.Queue.MaxRetries)
	}
	if cfg.Storage.Backend != "redis" {
		t.Errorf("Unexpected backend: %s", cfg.Storage.Backend)
	}
	if cfg.Remote.Routes["post.create"] != "/posts" {
		t.Errorf("Unexpected routes: %v", cfg.Remote.Routes)
	}

	t.Log("✓ File values override defaults")
}

// TestValidationFailures verifies invalid configurations are rejected
func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown backend",
			content: "storage:\n  backend: cassandra\n",
		},
		{
			name:    "gc shorter than staleness",
			content: "cache:\n  stale_after: 1h\n  gc_after: 1m\n",
		},
		{
			name:    "zero retries",
			content: "queue:\n  max_retries: 0\n",
		},
		{
			name:    "bad log level",
			content: "observability:\n  logging:\n    level: verbose\n",
		},
		{
			name:    "missing redis address",
			content: "storage:\n  backend: redis\nredis:\n  address: \"\"\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Errorf("Expected validation error for %s", tc.name)
			}
		})
	}

	t.Log("✓ Invalid configurations are rejected")
}
