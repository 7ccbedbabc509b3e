package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
api:
  listen_addr: ":9080"
  api_key: "test-api-key"
  read_timeout: 10s
  allowed_ips:
    - "127.0.0.1"
    - "10.0.0.0/8"

storage:
  path: "/tmp/test.db"

logging:
  level: "debug"
  format: "text"

metrics:
  enabled: true
  listen_addr: ":9191"

allocation:
  min_inboxes: 5
  max_inboxes: 500

rate_limit:
  enabled: true
  global:
    inboxes_per_day: 5000
  per_ip:
    inboxes_per_hour: 200
  tiers:
    microsoft:
      inboxes_per_day: 500
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if cfg.API.APIKey != "test-api-key" {
		t.Errorf("API.APIKey = %v, want test-api-key", cfg.API.APIKey)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("API.ReadTimeout = %v, want 10s", cfg.API.ReadTimeout)
	}
	if len(cfg.API.AllowedIPs) != 2 {
		t.Errorf("API.AllowedIPs = %v, want 2 entries", cfg.API.AllowedIPs)
	}
	if cfg.Storage.Path != "/tmp/test.db" {
		t.Errorf("Storage.Path = %v, want /tmp/test.db", cfg.Storage.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.ListenAddr != ":9191" {
		t.Errorf("Metrics = %+v, want enabled on :9191", cfg.Metrics)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %v, want /metrics", cfg.Metrics.Path)
	}

	policy := cfg.Policy()
	if policy.MinInboxes != 5 || policy.MaxInboxes != 500 {
		t.Errorf("Policy() = %+v, want 5..500", policy)
	}
	if !cfg.HasAPIAuth() {
		t.Error("HasAPIAuth() = false, want true")
	}

	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.RateLimit.Global == nil || cfg.RateLimit.Global.InboxesPerDay != 5000 {
		t.Errorf("RateLimit.Global = %+v, want 5000 per day", cfg.RateLimit.Global)
	}
	if cfg.RateLimit.PerIP == nil || cfg.RateLimit.PerIP.InboxesPerHour != 200 {
		t.Errorf("RateLimit.PerIP = %+v, want 200 per hour", cfg.RateLimit.PerIP)
	}
	if ms := cfg.RateLimit.Tiers["microsoft"]; ms == nil || ms.InboxesPerDay != 500 {
		t.Errorf("RateLimit.Tiers[microsoft] = %+v, want 500 per day", ms)
	}
	if cfg.RateLimit.FlushInterval != 10*time.Second {
		t.Errorf("RateLimit.FlushInterval = %v, want 10s", cfg.RateLimit.FlushInterval)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.API.MaxHeaderBytes != 1<<20 {
		t.Errorf("API.MaxHeaderBytes = %v, want 1MB", cfg.API.MaxHeaderBytes)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("API.IdleTimeout = %v, want 60s", cfg.API.IdleTimeout)
	}
	if cfg.Storage.Path != "/var/lib/mailfleet/mailfleet.db" {
		t.Errorf("Storage.Path = %v", cfg.Storage.Path)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
	if cfg.Allocation.MinInboxes != 10 || cfg.Allocation.MaxInboxes != 2000 {
		t.Errorf("Allocation = %+v, want 10..2000", cfg.Allocation)
	}
	if cfg.HasAPIAuth() {
		t.Error("HasAPIAuth() = true, want false")
	}
	if cfg.DNS.CacheTTL != 5*time.Minute {
		t.Errorf("DNS.CacheTTL = %v, want 5m", cfg.DNS.CacheTTL)
	}
}

func TestValidate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash key: %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"valid key hash", func(c *Config) { c.API.APIKeyHash = string(hash) }, false},
		{"invalid log level", func(c *Config) { c.Logging.Level = "invalid" }, true},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"key and hash", func(c *Config) { c.API.APIKey = "k"; c.API.APIKeyHash = string(hash) }, true},
		{"bad hash", func(c *Config) { c.API.APIKeyHash = "plaintext" }, true},
		{"bad api allowed ip", func(c *Config) { c.API.AllowedIPs = []string{"nope"} }, true},
		{"bad metrics allowed ip", func(c *Config) { c.Metrics.AllowedIPs = []string{"1.2.3.4/40"} }, true},
		{"zero min inboxes", func(c *Config) { c.Allocation.MinInboxes = -1 }, true},
		{"max below min", func(c *Config) { c.Allocation.MaxInboxes = 5 }, true},
		{"negative global quota", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Global = &LimitValues{InboxesPerHour: -1}
		}, true},
		{"unknown quota tier", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.Tiers = map[string]*LimitValues{"gold": {InboxesPerDay: 10}}
		}, true},
		{"disabled quota not validated", func(c *Config) {
			c.RateLimit.Tiers = map[string]*LimitValues{"gold": {InboxesPerDay: 10}}
		}, false},
		{"negative dns cache ttl", func(c *Config) { c.DNS.CacheTTL = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, `invalid: yaml: content: [`))
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}
