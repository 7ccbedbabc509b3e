// Package allocation packs a purchased quantity of inboxes onto sending
// domains and sender personas.
//
// Everything here is a pure computation over the request: no I/O, no
// logging and no state shared between calls. Callers are expected to run
// Validate on a Result before persisting it.
package allocation

import (
	"fmt"
	"strings"

	"github.com/foxzi/mailfleet/internal/localpart"
)

// Tier is a purchasable product category.
type Tier string

const (
	TierReseller  Tier = "reseller"
	TierEDU       Tier = "edu"
	TierLegacy    Tier = "legacy"
	TierPrewarmed Tier = "prewarmed"
	TierAWS       Tier = "aws"
	TierMicrosoft Tier = "microsoft"
)

// Tiers lists every known tier.
var Tiers = []Tier{TierReseller, TierEDU, TierLegacy, TierPrewarmed, TierAWS, TierMicrosoft}

// ParseTier parses a tier name, ignoring case and surrounding spaces.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tiers {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownTier)
}

// SourceMode says where the sending domains come from.
type SourceMode string

const (
	// SourceOwn means the customer supplies the domain names.
	SourceOwn SourceMode = "own"
	// SourceDeferred means domains are bought later; only an estimate is produced.
	SourceDeferred SourceMode = "deferred"
)

// ParseSourceMode parses a source mode, ignoring case and surrounding spaces.
func ParseSourceMode(s string) (SourceMode, error) {
	switch m := SourceMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SourceOwn, SourceDeferred:
		return m, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownSourceMode)
}

// Persona is a sender identity. Many inboxes may share one persona.
type Persona struct {
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
}

func (p Persona) String() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// blank reports whether neither name has a character usable in a local-part.
func (p Persona) blank() bool {
	return localpart.Sanitize(p.FirstName) == "" && localpart.Sanitize(p.LastName) == ""
}

// Request describes one allocation call.
type Request struct {
	Tier            Tier       `json:"tier" yaml:"tier"`
	SourceMode      SourceMode `json:"source_mode" yaml:"source_mode"`
	TotalInboxes    int        `json:"total_inboxes" yaml:"total_inboxes"`
	Personas        []Persona  `json:"personas" yaml:"personas"`
	ProvidedDomains []string   `json:"provided_domains,omitempty" yaml:"provided_domains,omitempty"`

	// InboxesPerDomain overrides the default capacity for tiers that allow it.
	InboxesPerDomain *int `json:"inboxes_per_domain,omitempty" yaml:"inboxes_per_domain,omitempty"`
}

// Allocation is one mailbox to be created.
type Allocation struct {
	Email   string  `json:"email"`
	Persona Persona `json:"persona"`
	Domain  string  `json:"domain"`
	// Slot indexes Result.DomainsUsed.
	Slot int `json:"slot"`
}

// Result is an allocation plan.
//
// When ShouldCreateInboxes is false only DomainsNeeded (a forward
// estimate) and Message are meaningful.
type Result struct {
	Allocations         []Allocation `json:"allocations"`
	DomainsNeeded       int          `json:"domains_needed"`
	DomainsUsed         []string     `json:"domains_used"`
	DomainInboxes       []int        `json:"domain_inboxes"`
	Capacity            int          `json:"capacity"`
	ShouldCreateInboxes bool         `json:"should_create_inboxes"`
	Message             string       `json:"message"`
}

// ByPersona counts allocations per persona, keyed by Persona.String().
func (r *Result) ByPersona() map[string]int {
	counts := make(map[string]int)
	for _, a := range r.Allocations {
		counts[a.Persona.String()]++
	}
	return counts
}
