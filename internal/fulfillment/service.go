package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/mailfleet/internal/allocation"
	"github.com/foxzi/mailfleet/internal/metrics"
)

// Service plans allocations and records them as orders
type Service struct {
	store  *Store
	dist   *allocation.Distributor
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a fulfillment service
func NewService(store *Store, dist *allocation.Distributor, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		dist:   dist,
		logger: logger.With("component", "fulfillment"),
		now:    time.Now,
	}
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// Plan distributes and validates req without persisting anything
func (s *Service) Plan(req allocation.Request) (*allocation.Result, error) {
	start := time.Now()

	res, err := s.dist.Distribute(req)
	if err == nil {
		err = allocation.Validate(res)
	}
	if err != nil {
		s.planFailed(req, err)
		return nil, err
	}

	domains := len(res.DomainsUsed)
	if !res.ShouldCreateInboxes {
		domains = res.DomainsNeeded
	}
	metrics.ObservePlan(string(normalizeTier(req.Tier)), string(normalizeMode(req.SourceMode)),
		len(res.Allocations), domains, time.Since(start).Seconds())

	s.logger.Debug("plan built",
		"tier", req.Tier,
		"source_mode", req.SourceMode,
		"inboxes", len(res.Allocations),
		"domains_needed", res.DomainsNeeded,
	)

	return res, nil
}

// Quote estimates the domains needed for a quantity on tier
func (s *Service) Quote(tier allocation.Tier, total int, override *int) (*allocation.Result, error) {
	res, err := s.dist.Estimate(tier, total, override)
	if err != nil {
		metrics.IncPlanErrors(allocation.Code(err))
		return nil, err
	}
	metrics.IncQuotes(string(normalizeTier(tier)))
	return res, nil
}

// Fulfill plans req and stores the resulting order. Deferred requests are
// stored as awaiting domains with only the estimate.
func (s *Service) Fulfill(ctx context.Context, req allocation.Request) (*Order, error) {
	res, err := s.Plan(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &Order{
		ID:               uuid.New().String(),
		Tier:             normalizeTier(req.Tier),
		SourceMode:       normalizeMode(req.SourceMode),
		TotalInboxes:     req.TotalInboxes,
		InboxesPerDomain: req.InboxesPerDomain,
		Personas:         req.Personas,
		DomainsNeeded:    res.DomainsNeeded,
		Status:           StatusFulfilled,
		Message:          res.Message,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if !res.ShouldCreateInboxes {
		order.Status = StatusAwaitingDomains
		if err := s.store.SaveOrder(ctx, order); err != nil {
			return nil, fmt.Errorf("failed to save order: %w", err)
		}
	} else {
		domains, inboxes := buildRecords(order.ID, res, now)
		if err := s.store.SavePlan(ctx, order, domains, inboxes); err != nil {
			s.logger.Warn("failed to save order", "order_id", order.ID, "error", err)
			return nil, err
		}
	}

	metrics.IncOrders(string(order.Status))
	s.logger.Info("order created",
		"order_id", order.ID,
		"tier", order.Tier,
		"status", order.Status,
		"inboxes", len(res.Allocations),
		"domains_needed", order.DomainsNeeded,
	)

	return order, nil
}

// Resume fulfills an order awaiting domains with the domains now provided
func (s *Service) Resume(ctx context.Context, orderID string, domains []string) (*Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != StatusAwaitingDomains {
		return nil, fmt.Errorf("order %s is %s: %w", order.ID, order.Status, ErrOrderNotAwaiting)
	}

	res, err := s.Plan(allocation.Request{
		Tier:             order.Tier,
		SourceMode:       allocation.SourceOwn,
		TotalInboxes:     order.TotalInboxes,
		Personas:         order.Personas,
		ProvidedDomains:  domains,
		InboxesPerDomain: order.InboxesPerDomain,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	order.Status = StatusFulfilled
	order.DomainsNeeded = res.DomainsNeeded
	order.Message = res.Message
	order.UpdatedAt = now

	domainRecords, inboxes := buildRecords(order.ID, res, now)
	if err := s.store.SavePlan(ctx, order, domainRecords, inboxes); err != nil {
		s.logger.Warn("failed to resume order", "order_id", order.ID, "error", err)
		return nil, err
	}

	metrics.IncOrders(string(order.Status))
	s.logger.Info("order resumed",
		"order_id", order.ID,
		"inboxes", len(inboxes),
		"domains", len(domainRecords),
	)

	return order, nil
}

// GetOrder retrieves an order by ID
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// ListOrders lists orders newest first
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]*Order, error) {
	return s.store.ListOrders(ctx, filter)
}

// ListDomains returns an order's domain records, failing if the order is unknown
func (s *Service) ListDomains(ctx context.Context, orderID string) ([]*DomainRecord, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListDomains(ctx, orderID)
}

// ListInboxes returns an order's inbox records, failing if the order is unknown
func (s *Service) ListInboxes(ctx context.Context, orderID string) ([]*InboxRecord, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListInboxes(ctx, orderID)
}

// DeleteOrder removes an order and releases its addresses
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	if err := s.store.DeleteOrder(ctx, id); err != nil {
		return err
	}
	s.logger.Info("order deleted", "order_id", id)
	return nil
}

func (s *Service) planFailed(req allocation.Request, err error) {
	metrics.IncPlanErrors(allocation.Code(err))

	switch {
	case errors.Is(err, allocation.ErrDuplicateEmails):
		metrics.IncDuplicateEmails()
		s.logger.Error("allocation produced duplicate emails",
			"tier", req.Tier,
			"total_inboxes", req.TotalInboxes,
			"error", err,
		)
	case allocation.IsPrecondition(err):
		s.logger.Info("allocation request rejected",
			"tier", req.Tier,
			"total_inboxes", req.TotalInboxes,
			"error", err,
		)
	default:
		s.logger.Error("allocation failed",
			"tier", req.Tier,
			"total_inboxes", req.TotalInboxes,
			"error", err,
		)
	}
}

// buildRecords turns a plan into one domain record per slot and one inbox
// record per allocation.
func buildRecords(orderID string, res *allocation.Result, now time.Time) ([]*DomainRecord, []*InboxRecord) {
	domains := make([]*DomainRecord, len(res.DomainsUsed))
	for i, name := range res.DomainsUsed {
		count := 0
		if i < len(res.DomainInboxes) {
			count = res.DomainInboxes[i]
		}
		domains[i] = &DomainRecord{
			ID:         uuid.New().String(),
			OrderID:    orderID,
			Name:       name,
			Slot:       i,
			InboxCount: count,
			CreatedAt:  now,
		}
	}

	inboxes := make([]*InboxRecord, len(res.Allocations))
	for i, a := range res.Allocations {
		var domainID string
		if a.Slot >= 0 && a.Slot < len(domains) {
			domainID = domains[a.Slot].ID
		}
		inboxes[i] = &InboxRecord{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			DomainID:  domainID,
			Email:     a.Email,
			FirstName: a.Persona.FirstName,
			LastName:  a.Persona.LastName,
			Domain:    a.Domain,
			CreatedAt: now,
		}
	}

	return domains, inboxes
}

func normalizeTier(t allocation.Tier) allocation.Tier {
	if parsed, err := allocation.ParseTier(string(t)); err == nil {
		return parsed
	}
	return t
}

func normalizeMode(m allocation.SourceMode) allocation.SourceMode {
	if parsed, err := allocation.ParseSourceMode(string(m)); err == nil {
		return parsed
	}
	return m
}
