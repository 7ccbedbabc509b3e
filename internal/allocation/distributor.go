package allocation

import (
	"fmt"

	"github.com/foxzi/mailfleet/internal/email"
)

// Quantity bounds applied by DefaultPolicy.
const (
	DefaultMinInboxes = 10
	DefaultMaxInboxes = 2000
)

// Policy holds the order-size bounds enforced before any packing.
type Policy struct {
	MinInboxes int
	MaxInboxes int
}

// DefaultPolicy returns the standard 10..2000 bounds.
func DefaultPolicy() Policy {
	return Policy{MinInboxes: DefaultMinInboxes, MaxInboxes: DefaultMaxInboxes}
}

// Distributor turns requests into allocation plans.
// It holds no mutable state and is safe for concurrent use.
type Distributor struct {
	policy Policy
}

// NewDistributor creates a distributor. Zero bounds fall back to the defaults.
func NewDistributor(p Policy) *Distributor {
	if p.MinInboxes <= 0 {
		p.MinInboxes = DefaultMinInboxes
	}
	if p.MaxInboxes <= 0 {
		p.MaxInboxes = DefaultMaxInboxes
	}
	return &Distributor{policy: p}
}

// Policy returns the bounds in effect.
func (d *Distributor) Policy() Policy {
	return d.policy
}

// Distribute plans req with DefaultPolicy.
func Distribute(req Request) (*Result, error) {
	return NewDistributor(DefaultPolicy()).Distribute(req)
}

// Distribute plans req. All preconditions are checked before any
// allocation work; on error no partial result is returned.
func (d *Distributor) Distribute(req Request) (*Result, error) {
	if err := d.checkQuantity(req.TotalInboxes); err != nil {
		return nil, err
	}
	if len(req.Personas) == 0 {
		return nil, ErrMissingPersonas
	}
	for i, p := range req.Personas {
		if p.blank() {
			return nil, fmt.Errorf("persona %d: %w", i, ErrInvalidPersona)
		}
	}

	tier, err := ParseTier(string(req.Tier))
	if err != nil {
		return nil, err
	}
	mode, err := ParseSourceMode(string(req.SourceMode))
	if err != nil {
		return nil, err
	}
	capacity, err := checkedCapacity(tier, req.InboxesPerDomain)
	if err != nil {
		return nil, err
	}

	if mode == SourceDeferred {
		return estimate(req.TotalInboxes, capacity), nil
	}

	domains := email.NormalizeDomains(req.ProvidedDomains)
	if len(domains) == 0 {
		return nil, ErrMissingDomains
	}
	for _, d := range domains {
		if !email.ValidDomain(d) {
			return nil, fmt.Errorf("%q: %w", d, ErrInvalidDomain)
		}
	}

	if tier == TierMicrosoft {
		return singleDomain(req.TotalInboxes, req.Personas, domains[0], capacity)
	}
	return multiDomain(req.TotalInboxes, req.Personas, domains, capacity)
}

// Estimate answers the deferred-mode question without personas: how many
// domains totalInboxes needs on tier. Quantity, tier and override are
// checked as in Distribute.
func (d *Distributor) Estimate(tier Tier, totalInboxes int, override *int) (*Result, error) {
	if err := d.checkQuantity(totalInboxes); err != nil {
		return nil, err
	}
	tier, err := ParseTier(string(tier))
	if err != nil {
		return nil, err
	}
	capacity, err := checkedCapacity(tier, override)
	if err != nil {
		return nil, err
	}
	return estimate(totalInboxes, capacity), nil
}

func (d *Distributor) checkQuantity(total int) error {
	if total < d.policy.MinInboxes || total > d.policy.MaxInboxes {
		return fmt.Errorf("%d not in [%d, %d]: %w",
			total, d.policy.MinInboxes, d.policy.MaxInboxes, ErrInvalidQuantity)
	}
	return nil
}

func checkedCapacity(tier Tier, override *int) (int, error) {
	if override != nil && acceptsOverride(tier) && *override < 1 {
		return 0, fmt.Errorf("got %d: %w", *override, ErrInvalidCapacity)
	}
	return Capacity(tier, override), nil
}

// Quote returns the number of domains a quantity needs on tier.
func Quote(tier Tier, totalInboxes int, override *int) int {
	if totalInboxes <= 0 {
		return 0
	}
	capacity := Capacity(tier, override)
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return ceilDiv(totalInboxes, capacity)
}

func estimate(total, capacity int) *Result {
	needed := ceilDiv(total, capacity)
	return &Result{
		Allocations:   []Allocation{},
		DomainsNeeded: needed,
		DomainsUsed:   []string{},
		DomainInboxes: []int{},
		Capacity:      capacity,
		Message: fmt.Sprintf("%d domains needed for %d inboxes at %d per domain; inboxes will be created once domains are available",
			needed, total, capacity),
	}
}

// singleDomain packs every inbox onto one domain, split across personas.
func singleDomain(total int, personas []Persona, domain string, capacity int) (*Result, error) {
	dr := newDrawer(total)
	allocations := make([]Allocation, 0, total)

	for i, n := range Split(total, len(personas)) {
		if n == 0 {
			continue
		}
		drawn, _, err := dr.draw(i, personas[i], domain, 0, 0, n)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, drawn...)
	}

	return &Result{
		Allocations:         allocations,
		DomainsNeeded:       1,
		DomainsUsed:         []string{domain},
		DomainInboxes:       []int{total},
		Capacity:            capacity,
		ShouldCreateInboxes: true,
		Message:             fmt.Sprintf("allocated %d inboxes on %s", total, domain),
	}, nil
}

// multiDomain cycles the provided domains into ceil(total/capacity) slots,
// splits inboxes across slots, then across personas within each slot.
// Each persona keeps a running offset into its candidate sequence that
// advances across slots, so the same persona gets varied local parts on
// different domains.
func multiDomain(total int, personas []Persona, provided []string, capacity int) (*Result, error) {
	needed := ceilDiv(total, capacity)

	slots := make([]string, needed)
	for i := range slots {
		slots[i] = provided[i%len(provided)]
	}

	perSlot := Split(total, needed)
	offsets := make([]int, len(personas))
	dr := newDrawer(total)
	allocations := make([]Allocation, 0, total)

	for slot, domain := range slots {
		for i, n := range Split(perSlot[slot], len(personas)) {
			if n == 0 {
				continue
			}
			drawn, next, err := dr.draw(i, personas[i], domain, slot, offsets[i], n)
			if err != nil {
				return nil, err
			}
			offsets[i] = next
			allocations = append(allocations, drawn...)
		}
	}

	return &Result{
		Allocations:         allocations,
		DomainsNeeded:       needed,
		DomainsUsed:         slots,
		DomainInboxes:       perSlot,
		Capacity:            capacity,
		ShouldCreateInboxes: true,
		Message:             fmt.Sprintf("allocated %d inboxes across %d domains", total, needed),
	}, nil
}
