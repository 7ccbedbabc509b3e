package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/foxzi/mailfleet/internal/dnscheck"
)

const (
	maxCheckDomains    = 100
	domainCheckTimeout = 30 * time.Second
)

// DomainCheckRequest is the request body for POST /domains/check
type DomainCheckRequest struct {
	Domains []string `json:"domains"`
}

// DomainCheckResponse is the response for POST /domains/check
type DomainCheckResponse struct {
	Results []*dnscheck.DomainCheckResult `json:"results"`
	Ready   int                           `json:"ready"`
	Total   int                           `json:"total"`
}

// SetChecker replaces the DNS readiness checker
func (s *Server) SetChecker(c *dnscheck.Checker) {
	s.checker = c
}

// handleCheckDomains handles POST /api/v1/domains/check
func (s *Server) handleCheckDomains(w http.ResponseWriter, r *http.Request) {
	var req DomainCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid_body", "Invalid request body")
		return
	}

	if len(req.Domains) == 0 {
		s.sendError(w, http.StatusBadRequest, "no_domains", "domains is required")
		return
	}
	if len(req.Domains) > maxCheckDomains {
		s.sendError(w, http.StatusBadRequest, "too_many_domains", "at most 100 domains per request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), domainCheckTimeout)
	defer cancel()

	results := s.checker.CheckDomains(ctx, req.Domains)
	if len(results) == 0 {
		s.sendError(w, http.StatusBadRequest, "no_domains", "domains is required")
		return
	}

	resp := DomainCheckResponse{Results: results, Total: len(results)}
	for _, res := range results {
		if res.Ready {
			resp.Ready++
		}
	}

	s.logger.Debug("domains checked", "total", resp.Total, "ready", resp.Ready)
	s.sendJSON(w, http.StatusOK, resp)
}
