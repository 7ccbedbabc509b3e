package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/mailfleet/internal/config"
	"github.com/foxzi/mailfleet/internal/dnscheck"
	"github.com/foxzi/mailfleet/internal/fulfillment"
	"github.com/foxzi/mailfleet/internal/ipfilter"
	"github.com/foxzi/mailfleet/internal/metrics"
	"github.com/foxzi/mailfleet/internal/ratelimit"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	service    *fulfillment.Service
	config     *config.APIConfig
	filter     *ipfilter.Filter
	quota      *ratelimit.Limiter
	checker    *dnscheck.Checker
	logger     *slog.Logger
	version    string
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(svc *fulfillment.Service, cfg *config.APIConfig, version string, logger *slog.Logger) (*Server, error) {
	filter, err := ipfilter.New(cfg.AllowedIPs, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    chi.NewRouter(),
		service:   svc,
		config:    cfg,
		filter:    filter,
		checker:   dnscheck.NewChecker(nil),
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s, nil
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (allow-list and auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.Middleware)
		r.Use(s.authMiddleware)

		r.Post("/plans", s.handlePlan)
		r.Post("/quotes", s.handleQuote)
		r.Get("/stats", s.handleStats)
		r.Get("/quota/{level}/{key}", s.handleQuotaUsage)
		r.Post("/domains/check", s.handleCheckDomains)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleListOrders)
			r.Post("/", s.handleCreateOrder)
			r.Get("/{id}", s.handleGetOrder)
			r.Delete("/{id}", s.handleDeleteOrder)
			r.Get("/{id}/domains", s.handleListDomains)
			r.Post("/{id}/domains", s.handleResumeOrder)
			r.Get("/{id}/inboxes", s.handleListInboxes)
		})
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
