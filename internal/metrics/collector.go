package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

// StoreStats contains storage statistics for metrics
type StoreStats struct {
	AwaitingOrders  int64
	FulfilledOrders int64
	Inboxes         int64
	Domains         int64
}

// StoreStatsProvider provides storage statistics for metrics
type StoreStatsProvider interface {
	StoreStats(ctx context.Context) (*StoreStats, error)
}

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// counterSample is one persisted counter child
type counterSample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and refreshes gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	storeStats    StoreStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	// adders restore a persisted sample into the named counter
	adders map[string]func(labels map[string]string, v float64)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, storeStats StoreStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		storeStats:    storeStats,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	c.adders = map[string]func(map[string]string, float64){
		"mailfleet_plans_total":             vecAdder(m.PlansTotal),
		"mailfleet_plan_errors_total":       vecAdder(m.PlanErrorsTotal),
		"mailfleet_inboxes_allocated_total": vecAdder(m.InboxesAllocatedTotal),
		"mailfleet_domains_planned_total":   vecAdder(m.DomainsPlannedTotal),
		"mailfleet_quotes_total":            vecAdder(m.QuotesTotal),
		"mailfleet_orders_total":            vecAdder(m.OrdersTotal),
		"mailfleet_quota_exceeded_total":    vecAdder(m.QuotaExceededTotal),
		"mailfleet_duplicate_emails_total": func(_ map[string]string, v float64) {
			m.DuplicateEmailsTotal.Add(v)
		},
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

func vecAdder(vec *prometheus.CounterVec) func(map[string]string, float64) {
	return func(labels map[string]string, v float64) {
		counter, err := vec.GetMetricWith(labels)
		if err != nil {
			return // label set changed between versions
		}
		counter.Add(v)
	}
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.collectSystemMetrics(ctx)

	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted counter values to the fresh registry
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var saved map[string][]counterSample
		if err := json.Unmarshal(data, &saved); err != nil {
			return nil // Skip invalid data
		}

		for name, samples := range saved {
			add, ok := c.adders[name]
			if !ok {
				continue
			}
			for _, s := range samples {
				if s.Value > 0 {
					add(s.Labels, s.Value)
				}
			}
		}
		return nil
	})
}

// snapshot reads the current value of every persisted counter
func (c *Collector) snapshot() (map[string][]counterSample, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]counterSample)
	for _, mf := range families {
		if _, ok := c.adders[mf.GetName()]; !ok {
			continue
		}
		for _, metric := range mf.GetMetric() {
			s := counterSample{Value: metric.GetCounter().GetValue()}
			if len(metric.GetLabel()) > 0 {
				s.Labels = make(map[string]string, len(metric.GetLabel()))
				for _, lp := range metric.GetLabel() {
					s.Labels[lp.GetName()] = lp.GetValue()
				}
			}
			out[mf.GetName()] = append(out[mf.GetName()], s)
		}
	}
	return out, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	snap, err := c.snapshot()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return bucket.Put(keyCounters, data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.storeStats != nil {
		stats, err := c.storeStats.StoreStats(ctx)
		if err == nil {
			c.metrics.OrdersAwaitingDomains.Set(float64(stats.AwaitingOrders))
			c.metrics.OrdersFulfilled.Set(float64(stats.FulfilledOrders))
			c.metrics.InboxesStored.Set(float64(stats.Inboxes))
			c.metrics.DomainsStored.Set(float64(stats.Domains))
		}
	}
}
