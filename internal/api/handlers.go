package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/mailfleet/internal/allocation"
	"github.com/foxzi/mailfleet/internal/fulfillment"
	"github.com/foxzi/mailfleet/internal/ratelimit"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// QuoteRequest is the request body for POST /quotes
type QuoteRequest struct {
	Tier             allocation.Tier `json:"tier"`
	TotalInboxes     int             `json:"total_inboxes"`
	InboxesPerDomain *int            `json:"inboxes_per_domain,omitempty"`
}

// QuoteResponse is the response for POST /quotes
type QuoteResponse struct {
	Tier          allocation.Tier `json:"tier"`
	TotalInboxes  int             `json:"total_inboxes"`
	DomainsNeeded int             `json:"domains_needed"`
	Capacity      int             `json:"capacity"`
	Message       string          `json:"message"`
}

// ResumeRequest is the request body for POST /orders/{id}/domains
type ResumeRequest struct {
	Domains []string `json:"domains"`
}

// OrdersResponse is the response for GET /orders
type OrdersResponse struct {
	Orders []*fulfillment.Order `json:"orders"`
	Count  int                  `json:"count"`
}

// DomainsResponse is the response for GET /orders/{id}/domains
type DomainsResponse struct {
	OrderID string                      `json:"order_id"`
	Domains []*fulfillment.DomainRecord `json:"domains"`
}

// InboxesResponse is the response for GET /orders/{id}/inboxes
type InboxesResponse struct {
	OrderID string                     `json:"order_id"`
	Inboxes []*fulfillment.InboxRecord `json:"inboxes"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version"`
	Uptime  string             `json:"uptime"`
	Storage *fulfillment.Stats `json:"storage,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// handlePlan handles POST /api/v1/plans
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req allocation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	res, err := s.service.Plan(req)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, res)
}

// handleQuote handles POST /api/v1/quotes
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	res, err := s.service.Quote(req.Tier, req.TotalInboxes, req.InboxesPerDomain)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	tier, _ := allocation.ParseTier(string(req.Tier))
	s.sendJSON(w, http.StatusOK, QuoteResponse{
		Tier:          tier,
		TotalInboxes:  req.TotalInboxes,
		DomainsNeeded: res.DomainsNeeded,
		Capacity:      res.Capacity,
		Message:       res.Message,
	})
}

// handleCreateOrder handles POST /api/v1/orders
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req allocation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	var quotaReq *ratelimit.Request
	if mode, _ := allocation.ParseSourceMode(string(req.SourceMode)); mode != allocation.SourceDeferred {
		var ok bool
		if quotaReq, ok = s.reserveQuota(w, r, req.Tier, req.TotalInboxes); !ok {
			return
		}
	}

	order, err := s.service.Fulfill(r.Context(), req)
	if err != nil {
		s.releaseQuota(r.Context(), quotaReq)
		s.sendServiceError(w, err)
		return
	}

	if order.Status != fulfillment.StatusFulfilled {
		s.releaseQuota(r.Context(), quotaReq)
	}

	s.sendJSON(w, http.StatusCreated, order)
}

// handleListOrders handles GET /api/v1/orders
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	filter := fulfillment.ListFilter{
		Status: fulfillment.OrderStatus(r.URL.Query().Get("status")),
		Limit:  defaultListLimit,
	}

	if tier := r.URL.Query().Get("tier"); tier != "" {
		parsed, err := allocation.ParseTier(tier)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		filter.Tier = parsed
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			s.sendError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxListLimit)
	}

	if offset := r.URL.Query().Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid_offset", "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	orders, err := s.service.ListOrders(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list orders", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal", "Failed to list orders")
		return
	}

	s.sendJSON(w, http.StatusOK, OrdersResponse{Orders: orders, Count: len(orders)})
}

// handleGetOrder handles GET /api/v1/orders/{id}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, order)
}

// handleListDomains handles GET /api/v1/orders/{id}/domains
func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	domains, err := s.service.ListDomains(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, DomainsResponse{OrderID: id, Domains: domains})
}

// handleListInboxes handles GET /api/v1/orders/{id}/inboxes
func (s *Server) handleListInboxes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inboxes, err := s.service.ListInboxes(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, InboxesResponse{OrderID: id, Inboxes: inboxes})
}

// handleResumeOrder handles POST /api/v1/orders/{id}/domains
func (s *Server) handleResumeOrder(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")

	pending, err := s.service.GetOrder(r.Context(), id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	var quotaReq *ratelimit.Request
	if pending.Status == fulfillment.StatusAwaitingDomains {
		var ok bool
		if quotaReq, ok = s.reserveQuota(w, r, pending.Tier, pending.TotalInboxes); !ok {
			return
		}
	}

	order, err := s.service.Resume(r.Context(), id, req.Domains)
	if err != nil {
		s.releaseQuota(r.Context(), quotaReq)
		s.sendServiceError(w, err)
		return
	}

	s.sendJSON(w, http.StatusOK, order)
}

// handleDeleteOrder handles DELETE /api/v1/orders/{id}
func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.sendServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Store().Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal", "Failed to get stats")
		return
	}

	s.sendJSON(w, http.StatusOK, stats)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, _ := s.service.Store().Stats(r.Context())

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).String(),
		Storage: stats,
	})
}

// sendServiceError maps planner and store errors to HTTP responses
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case allocation.IsPrecondition(err):
		s.sendError(w, http.StatusBadRequest, allocation.Code(err), err.Error())
	case errors.Is(err, fulfillment.ErrOrderNotFound):
		s.sendError(w, http.StatusNotFound, "order_not_found", "Order not found")
	case errors.Is(err, fulfillment.ErrEmailTaken):
		s.sendError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, fulfillment.ErrOrderNotAwaiting):
		s.sendError(w, http.StatusConflict, "order_not_awaiting", err.Error())
	case errors.Is(err, allocation.ErrDuplicateEmails), errors.Is(err, allocation.ErrCandidatesExhausted):
		s.sendError(w, http.StatusInternalServerError, allocation.Code(err), "Allocation failed")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal", "Internal error")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message, Code: code})
}
