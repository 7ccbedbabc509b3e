package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Mailfleet
type Metrics struct {
	// Planner counters
	PlansTotal            *prometheus.CounterVec
	PlanErrorsTotal       *prometheus.CounterVec
	PlanDurationSeconds   *prometheus.HistogramVec
	InboxesAllocatedTotal *prometheus.CounterVec
	DomainsPlannedTotal   *prometheus.CounterVec
	QuotesTotal           *prometheus.CounterVec
	DuplicateEmailsTotal  prometheus.Counter

	// Orders
	OrdersTotal        *prometheus.CounterVec
	QuotaExceededTotal *prometheus.CounterVec

	// Store gauges
	OrdersAwaitingDomains prometheus.Gauge
	OrdersFulfilled       prometheus.Gauge
	InboxesStored         prometheus.Gauge
	DomainsStored         prometheus.Gauge

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds    prometheus.Gauge
	Goroutines       prometheus.Gauge
	StorageUsedBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		PlansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_plans_total",
				Help: "Total number of successful allocation plans",
			},
			[]string{"tier", "source_mode"},
		),
		PlanErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_plan_errors_total",
				Help: "Total number of rejected or failed allocation plans",
			},
			[]string{"code"},
		),
		PlanDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailfleet_plan_duration_seconds",
				Help:    "Time spent building and validating an allocation plan",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"tier"},
		),
		InboxesAllocatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_inboxes_allocated_total",
				Help: "Total number of inbox addresses produced by the planner",
			},
			[]string{"tier"},
		),
		DomainsPlannedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_domains_planned_total",
				Help: "Total number of domain slots used or estimated by the planner",
			},
			[]string{"tier"},
		),
		QuotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_quotes_total",
				Help: "Total number of domain quotes served",
			},
			[]string{"tier"},
		),
		DuplicateEmailsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailfleet_duplicate_emails_total",
				Help: "Plans rejected because the validator found colliding addresses",
			},
		),

		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_orders_total",
				Help: "Total number of persisted orders by resulting status",
			},
			[]string{"status"},
		),

		OrdersAwaitingDomains: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfleet_orders_awaiting_domains",
				Help: "Number of stored orders waiting for domains",
			},
		),
		OrdersFulfilled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfleet_orders_fulfilled",
				Help: "Number of stored fulfilled orders",
			},
		),
		InboxesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfleet_inboxes_stored",
				Help: "Number of inbox records in storage",
			},
		),
		DomainsStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfleet_domains_stored",
				Help: "Number of domain records in storage",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_api_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailfleet_api_request_duration_seconds",
				Help:    "HTTP API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		QuotaExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_quota_exceeded_total",
				Help: "Total number of orders rejected by an inbox quota",
			},
			[]string{"level"},
		),

		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailfleet_api_errors_total",
				Help: "Total number of HTTP API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfleet_uptime_seconds",
				Help: "Time since server start in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfleet_goroutines",
				Help: "Number of active goroutines",
			},
		),
		StorageUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailfleet_storage_used_bytes",
				Help: "Size of the BoltDB storage file in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.PlansTotal,
		m.PlanErrorsTotal,
		m.PlanDurationSeconds,
		m.InboxesAllocatedTotal,
		m.DomainsPlannedTotal,
		m.QuotesTotal,
		m.DuplicateEmailsTotal,
		m.OrdersTotal,
		m.QuotaExceededTotal,
		m.OrdersAwaitingDomains,
		m.OrdersFulfilled,
		m.InboxesStored,
		m.DomainsStored,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.StorageUsedBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObservePlan records a successful plan
func ObservePlan(tier, mode string, inboxes, domains int, seconds float64) {
	m := Global()
	if m != nil {
		m.PlansTotal.WithLabelValues(tier, mode).Inc()
		m.InboxesAllocatedTotal.WithLabelValues(tier).Add(float64(inboxes))
		m.DomainsPlannedTotal.WithLabelValues(tier).Add(float64(domains))
		m.PlanDurationSeconds.WithLabelValues(tier).Observe(seconds)
	}
}

// IncPlanErrors increments the plan error counter
func IncPlanErrors(code string) {
	m := Global()
	if m != nil {
		m.PlanErrorsTotal.WithLabelValues(code).Inc()
	}
}

// IncDuplicateEmails increments the duplicate email counter
func IncDuplicateEmails() {
	m := Global()
	if m != nil {
		m.DuplicateEmailsTotal.Inc()
	}
}

// IncQuotes increments the quote counter
func IncQuotes(tier string) {
	m := Global()
	if m != nil {
		m.QuotesTotal.WithLabelValues(tier).Inc()
	}
}

// IncOrders increments the order counter
func IncOrders(status string) {
	m := Global()
	if m != nil {
		m.OrdersTotal.WithLabelValues(status).Inc()
	}
}

// IncQuotaExceeded increments the quota rejection counter
func IncQuotaExceeded(level string) {
	m := Global()
	if m != nil {
		m.QuotaExceededTotal.WithLabelValues(level).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}
