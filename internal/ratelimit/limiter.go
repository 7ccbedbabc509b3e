package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketInboxQuota = []byte("inbox_quota")

// Level is the scope an inbox quota applies to
type Level string

const (
	LevelGlobal Level = "global"
	LevelIP     Level = "ip"
	LevelTier   Level = "tier"
)

// Config contains inbox quota configuration
type Config struct {
	// Global caps every inbox fulfilled by this server
	Global *LimitConfig `yaml:"global,omitempty"`

	// PerIP caps inboxes fulfilled for one client IP
	PerIP *LimitConfig `yaml:"per_ip,omitempty"`

	// Tiers caps inboxes per product tier, keyed by tier name
	Tiers map[string]*LimitConfig `yaml:"tiers,omitempty"`

	// Persistence settings
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains quota values. Zero means unlimited.
type LimitConfig struct {
	InboxesPerHour int `yaml:"inboxes_per_hour" json:"inboxes_per_hour"`
	InboxesPerDay  int `yaml:"inboxes_per_day" json:"inboxes_per_day"`
}

// Counter tracks inboxes fulfilled in the current windows
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter enforces inbox quotas. Counters live in memory and are flushed to bbolt.
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter // key -> counter
	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewLimiter creates a new quota limiter
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketInboxQuota)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create inbox quota bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// Request describes inboxes about to be fulfilled
type Request struct {
	IP      string // Client IP
	Tier    string // Product tier
	Inboxes int    // Number of inboxes
}

// Result contains the quota check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	Remaining  int
	RetryAfter time.Duration
}

// Usage reports a counter's state
type Usage struct {
	Level       Level     `json:"level"`
	Key         string    `json:"key"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Check reports whether req.Inboxes more inboxes fit in every applicable
// quota. Counters are not changed.
func (l *Limiter) Check(ctx context.Context, req *Request) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.evaluate(req, l.now()), nil
}

// Reserve checks req and, when it fits, counts it under the same lock, so
// concurrent callers cannot overshoot a quota together. Inboxes that end
// up not being created are handed back with Release.
func (l *Limiter) Reserve(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	result := l.evaluate(req, now)
	if result.Allowed {
		l.add(req, now)
	}
	return result, nil
}

// Release takes back inboxes counted by Reserve. Counters never drop below zero.
func (l *Limiter) Release(ctx context.Context, req *Request) error {
	if req.Inboxes <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, check := range l.getChecks(req) {
		counter, exists := l.counters[check.key]
		if !exists {
			continue
		}
		l.resetExpiredCounters(counter, now)
		counter.HourlyCount = max(counter.HourlyCount-req.Inboxes, 0)
		counter.DailyCount = max(counter.DailyCount-req.Inboxes, 0)
	}

	return nil
}

// Record adds req.Inboxes to every applicable counter
func (l *Limiter) Record(ctx context.Context, req *Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.add(req, l.now())
	return nil
}

// evaluate must be called with l.mu held
func (l *Limiter) evaluate(req *Request, now time.Time) *Result {
	result := &Result{Allowed: true, Remaining: -1}
	if req.Inboxes <= 0 {
		return result
	}

	for _, check := range l.getChecks(req) {
		hourly, daily := 0, 0
		var hourStart, dayStart time.Time
		if counter, exists := l.counters[check.key]; exists {
			hourly, daily = counter.HourlyCount, counter.DailyCount
			hourStart, dayStart = counter.HourStart, counter.DayStart
			if now.Sub(hourStart) >= time.Hour {
				hourly = 0
			}
			if now.Sub(dayStart) >= 24*time.Hour {
				daily = 0
			}
		}

		if limit := check.limit.InboxesPerHour; limit > 0 {
			if hourly+req.Inboxes > limit {
				return denied(check, limit-hourly, hourStart, time.Hour, now)
			}
			result.Remaining = minRemaining(result.Remaining, limit-hourly-req.Inboxes)
		}

		if limit := check.limit.InboxesPerDay; limit > 0 {
			if daily+req.Inboxes > limit {
				return denied(check, limit-daily, dayStart, 24*time.Hour, now)
			}
			result.Remaining = minRemaining(result.Remaining, limit-daily-req.Inboxes)
		}
	}

	return result
}

// add must be called with l.mu held for writing
func (l *Limiter) add(req *Request, now time.Time) {
	if req.Inboxes <= 0 {
		return
	}
	for _, check := range l.getChecks(req) {
		counter := l.getOrCreateCounter(check.key, now)
		l.resetExpiredCounters(counter, now)
		counter.HourlyCount += req.Inboxes
		counter.DailyCount += req.Inboxes
	}
}

// GetUsage returns the current counter for level and key
func (l *Limiter) GetUsage(ctx context.Context, level Level, key string) (*Usage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counter, exists := l.counters[makeKey(level, key)]
	if !exists {
		return &Usage{Level: level, Key: key}, nil
	}

	now := l.now()
	usage := &Usage{
		Level:       level,
		Key:         key,
		HourlyCount: counter.HourlyCount,
		DailyCount:  counter.DailyCount,
		HourStart:   counter.HourStart,
		DayStart:    counter.DayStart,
	}

	if now.Sub(counter.HourStart) >= time.Hour {
		usage.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		usage.DailyCount = 0
	}

	return usage, nil
}

// Limits returns the quota configured for level and key, or nil
func (l *Limiter) Limits(level Level, key string) *LimitConfig {
	switch level {
	case LevelGlobal:
		return l.config.Global
	case LevelIP:
		return l.config.PerIP
	case LevelTier:
		return l.config.Tiers[key]
	}
	return nil
}

// Stop stops the limiter and persists counters
func (l *Limiter) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return l.persistCounters()
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) getChecks(req *Request) []limitCheck {
	var checks []limitCheck

	if l.config.Global != nil {
		checks = append(checks, limitCheck{
			level: LevelGlobal,
			key:   makeKey(LevelGlobal, "global"),
			limit: l.config.Global,
		})
	}

	if req.IP != "" && l.config.PerIP != nil {
		checks = append(checks, limitCheck{
			level: LevelIP,
			key:   makeKey(LevelIP, req.IP),
			limit: l.config.PerIP,
		})
	}

	if limit, ok := l.config.Tiers[req.Tier]; ok && limit != nil {
		checks = append(checks, limitCheck{
			level: LevelTier,
			key:   makeKey(LevelTier, req.Tier),
			limit: limit,
		})
	}

	return checks
}

func denied(check limitCheck, remaining int, windowStart time.Time, window time.Duration, now time.Time) *Result {
	retry := time.Duration(0)
	if !windowStart.IsZero() {
		retry = windowStart.Add(window).Sub(now)
	}
	return &Result{
		Allowed:    false,
		DeniedBy:   check.level,
		DeniedKey:  check.key,
		Remaining:  max(remaining, 0),
		RetryAfter: retry,
	}
}

func minRemaining(current, n int) int {
	if current < 0 || n < current {
		return n
	}
	return current
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *Counter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &Counter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func (l *Limiter) resetExpiredCounters(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketInboxQuota)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketInboxQuota)
		if bucket == nil {
			return nil
		}

		for key, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
