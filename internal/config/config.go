package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/mailfleet/internal/allocation"
	"github.com/foxzi/mailfleet/internal/ipfilter"
)

// Config is the main configuration structure
type Config struct {
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Allocation AllocationConfig `yaml:"allocation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	DNS        DNSConfig        `yaml:"dns"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash, alternative to api_key
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Default: 1MB
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedIPs     []string      `yaml:"allowed_ips"` // empty = allow all
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"`
}

// AllocationConfig bounds the order sizes the planner accepts
type AllocationConfig struct {
	MinInboxes int `yaml:"min_inboxes"`
	MaxInboxes int `yaml:"max_inboxes"`
}

// RateLimitConfig contains inbox quota settings
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Global limits (for entire server)
	Global *LimitValues `yaml:"global,omitempty"`

	// Limits per client IP
	PerIP *LimitValues `yaml:"per_ip,omitempty"`

	// Limits per product tier
	Tiers map[string]*LimitValues `yaml:"tiers,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DNSConfig contains settings for domain readiness checks
type DNSConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"` // Default: 5m
}

// LimitValues contains quota values. Zero means unlimited.
type LimitValues struct {
	InboxesPerHour int `yaml:"inboxes_per_hour"`
	InboxesPerDay  int `yaml:"inboxes_per_day"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/mailfleet/mailfleet.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Allocation.MinInboxes == 0 {
		c.Allocation.MinInboxes = allocation.DefaultMinInboxes
	}
	if c.Allocation.MaxInboxes == 0 {
		c.Allocation.MaxInboxes = allocation.DefaultMaxInboxes
	}

	if c.RateLimit.FlushInterval == 0 {
		c.RateLimit.FlushInterval = 10 * time.Second
	}

	if c.DNS.CacheTTL == 0 {
		c.DNS.CacheTTL = 5 * time.Minute
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if err := c.validateAPI(); err != nil {
		return err
	}

	if _, err := ipfilter.ParseNetworks(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("metrics.allowed_ips: %w", err)
	}

	if c.Allocation.MinInboxes < 1 {
		return fmt.Errorf("allocation.min_inboxes must be at least 1")
	}
	if c.Allocation.MaxInboxes < c.Allocation.MinInboxes {
		return fmt.Errorf("allocation.max_inboxes (%d) must not be below min_inboxes (%d)",
			c.Allocation.MaxInboxes, c.Allocation.MinInboxes)
	}

	if c.DNS.CacheTTL < 0 {
		return fmt.Errorf("dns.cache_ttl must not be negative")
	}

	if c.RateLimit.Enabled {
		if err := c.validateRateLimit(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateRateLimit() error {
	if err := c.RateLimit.Global.validate("rate_limit.global"); err != nil {
		return err
	}
	if err := c.RateLimit.PerIP.validate("rate_limit.per_ip"); err != nil {
		return err
	}
	for name, limits := range c.RateLimit.Tiers {
		if _, err := allocation.ParseTier(name); err != nil {
			return fmt.Errorf("rate_limit.tiers: %w", err)
		}
		if err := limits.validate("rate_limit.tiers." + name); err != nil {
			return err
		}
	}
	return nil
}

func (v *LimitValues) validate(field string) error {
	if v == nil {
		return nil
	}
	if v.InboxesPerHour < 0 || v.InboxesPerDay < 0 {
		return fmt.Errorf("%s: limits must not be negative", field)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.APIKey != "" && c.API.APIKeyHash != "" {
		return fmt.Errorf("api.api_key and api.api_key_hash are mutually exclusive")
	}

	if c.API.APIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(c.API.APIKeyHash)); err != nil {
			return fmt.Errorf("api.api_key_hash is not a bcrypt hash: %w", err)
		}
	}

	if _, err := ipfilter.ParseNetworks(c.API.AllowedIPs); err != nil {
		return fmt.Errorf("api.allowed_ips: %w", err)
	}

	return nil
}

// HasAPIAuth returns true if API requests must carry a key
func (c *Config) HasAPIAuth() bool {
	return c.API.APIKey != "" || c.API.APIKeyHash != ""
}

// Policy returns the allocation bounds for the planner
func (c *Config) Policy() allocation.Policy {
	return allocation.Policy{
		MinInboxes: c.Allocation.MinInboxes,
		MaxInboxes: c.Allocation.MaxInboxes,
	}
}
