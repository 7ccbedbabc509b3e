package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/mailfleet/internal/allocation"
	"github.com/foxzi/mailfleet/internal/api"
	"github.com/foxzi/mailfleet/internal/config"
	"github.com/foxzi/mailfleet/internal/dns"
	"github.com/foxzi/mailfleet/internal/dnscheck"
	"github.com/foxzi/mailfleet/internal/fulfillment"
	"github.com/foxzi/mailfleet/internal/metrics"
	"github.com/foxzi/mailfleet/internal/ratelimit"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *fulfillment.Store
	service       *fulfillment.Service
	apiServer     *api.Server
	metrics       *metrics.Metrics
	collector     *metrics.Collector
	metricsServer *metrics.Server
	quota         *ratelimit.Limiter
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	store, err := fulfillment.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	app := &App{
		config: cfg,
		store:  store,
		logger: logger,
	}

	if cfg.Metrics.Enabled {
		app.metrics = metrics.New()
		metrics.SetGlobal(app.metrics)

		app.collector, err = metrics.NewCollector(store.DB(), app.metrics, store, cfg.Storage.Path, 0)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create metrics collector: %w", err)
		}

		app.metricsServer, err = metrics.NewServer(app.metrics, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	app.service = fulfillment.NewService(store, allocation.NewDistributor(cfg.Policy()), logger)

	app.apiServer, err = api.NewServer(app.service, &cfg.API, version, logger.With("component", "api"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	app.apiServer.SetChecker(dnscheck.NewChecker(dns.NewResolver(cfg.DNS.CacheTTL, nil)))

	if cfg.RateLimit.Enabled {
		app.quota, err = ratelimit.NewLimiter(store.DB(), quotaConfig(cfg.RateLimit))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create inbox quota: %w", err)
		}
		app.apiServer.SetQuota(app.quota)
		logger.Info("inbox quotas enabled")
	}

	if !cfg.HasAPIAuth() {
		logger.Warn("API authentication is disabled; set api.api_key or api.api_key_hash")
	}

	return app, nil
}

// Service returns the fulfillment service
func (a *App) Service() *fulfillment.Service {
	return a.service
}

// Run starts all servers and blocks until a signal or a server error
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailfleet",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
		"metrics", a.config.Metrics.Enabled,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		a.collector.Start(ctx)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persist counters before the database closes
	if a.quota != nil {
		if err := a.quota.Stop(); err != nil {
			a.logger.Error("inbox quota stop error", "error", err)
		}
	}

	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// quotaConfig converts config limits, normalizing tier names
func quotaConfig(cfg config.RateLimitConfig) *ratelimit.Config {
	rlConfig := &ratelimit.Config{
		FlushInterval: cfg.FlushInterval,
	}
	if cfg.Global != nil {
		rlConfig.Global = &ratelimit.LimitConfig{
			InboxesPerHour: cfg.Global.InboxesPerHour,
			InboxesPerDay:  cfg.Global.InboxesPerDay,
		}
	}
	if cfg.PerIP != nil {
		rlConfig.PerIP = &ratelimit.LimitConfig{
			InboxesPerHour: cfg.PerIP.InboxesPerHour,
			InboxesPerDay:  cfg.PerIP.InboxesPerDay,
		}
	}
	if len(cfg.Tiers) > 0 {
		rlConfig.Tiers = make(map[string]*ratelimit.LimitConfig, len(cfg.Tiers))
		for name, limits := range cfg.Tiers {
			tier, err := allocation.ParseTier(name)
			if err != nil || limits == nil {
				continue
			}
			rlConfig.Tiers[string(tier)] = &ratelimit.LimitConfig{
				InboxesPerHour: limits.InboxesPerHour,
				InboxesPerDay:  limits.InboxesPerDay,
			}
		}
	}
	return rlConfig
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
