package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/mailfleet/internal/allocation"
	"github.com/foxzi/mailfleet/internal/ipfilter"
	"github.com/foxzi/mailfleet/internal/metrics"
	"github.com/foxzi/mailfleet/internal/ratelimit"
)

// QuotaUsageResponse is the response for GET /api/v1/quota/{level}/{key}
type QuotaUsageResponse struct {
	Level       string `json:"level"`
	Key         string `json:"key"`
	HourlyCount int    `json:"hourly_count"`
	DailyCount  int    `json:"daily_count"`
	HourlyLimit int    `json:"hourly_limit"`
	DailyLimit  int    `json:"daily_limit"`
}

// SetQuota enables inbox quotas for order creation and resume
func (s *Server) SetQuota(l *ratelimit.Limiter) {
	s.quota = l
}

// reserveQuota counts the inboxes against every applicable quota, or
// writes a 429 and returns false when they do not fit. A non-nil request
// must be passed to releaseQuota if the inboxes are not created.
func (s *Server) reserveQuota(w http.ResponseWriter, r *http.Request, tier allocation.Tier, inboxes int) (*ratelimit.Request, bool) {
	if s.quota == nil {
		return nil, true
	}

	if parsed, err := allocation.ParseTier(string(tier)); err == nil {
		tier = parsed
	}

	req := &ratelimit.Request{
		Tier:    string(tier),
		Inboxes: inboxes,
	}
	if ip := ipfilter.ClientIP(r); ip != nil {
		req.IP = ip.String()
	}

	result, err := s.quota.Reserve(r.Context(), req)
	if err != nil {
		s.logger.Error("quota reserve error", "error", err)
		return nil, true // Don't block on errors
	}

	if !result.Allowed {
		s.logger.Warn("inbox quota exceeded",
			"level", result.DeniedBy,
			"key", result.DeniedKey,
			"inboxes", inboxes,
			"remaining", result.Remaining,
			"retry_after", result.RetryAfter,
		)
		metrics.IncQuotaExceeded(string(result.DeniedBy))

		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(result.RetryAfter.Seconds()))))
		}
		s.sendError(w, http.StatusTooManyRequests, "quota_exceeded",
			fmt.Sprintf("%s inbox quota exceeded: %d remaining", result.DeniedBy, result.Remaining))
		return nil, false
	}

	return req, true
}

// releaseQuota hands back a reservation for inboxes that were not created
func (s *Server) releaseQuota(ctx context.Context, req *ratelimit.Request) {
	if s.quota == nil || req == nil {
		return
	}

	if err := s.quota.Release(ctx, req); err != nil {
		s.logger.Error("quota release error", "error", err)
	}
}

// handleQuotaUsage handles GET /api/v1/quota/{level}/{key}
func (s *Server) handleQuotaUsage(w http.ResponseWriter, r *http.Request) {
	if s.quota == nil {
		s.sendError(w, http.StatusServiceUnavailable, "quota_disabled", "Inbox quotas are not enabled")
		return
	}

	level := ratelimit.Level(chi.URLParam(r, "level"))
	key := chi.URLParam(r, "key")

	switch level {
	case ratelimit.LevelGlobal, ratelimit.LevelIP, ratelimit.LevelTier:
	default:
		s.sendError(w, http.StatusBadRequest, "invalid_level", "level must be global, ip or tier")
		return
	}

	usage, err := s.quota.GetUsage(r.Context(), level, key)
	if err != nil {
		s.logger.Error("failed to get quota usage", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal", "Failed to get quota usage")
		return
	}

	response := QuotaUsageResponse{
		Level:       string(level),
		Key:         key,
		HourlyCount: usage.HourlyCount,
		DailyCount:  usage.DailyCount,
	}
	if limits := s.quota.Limits(level, key); limits != nil {
		response.HourlyLimit = limits.InboxesPerHour
		response.DailyLimit = limits.InboxesPerDay
	}

	s.sendJSON(w, http.StatusOK, response)
}
