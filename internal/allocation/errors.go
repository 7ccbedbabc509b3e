package allocation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidQuantity     = errors.New("invalid inbox quantity")
	ErrMissingPersonas     = errors.New("at least one persona is required")
	ErrMissingDomains      = errors.New("at least one domain is required")
	ErrInvalidDomain       = errors.New("invalid domain name")
	ErrDuplicateEmails     = errors.New("duplicate emails in allocation")
	ErrInvalidPersona      = errors.New("persona needs a first or last name with latin letters or digits")
	ErrInvalidCapacity     = errors.New("inboxes per domain must be at least 1")
	ErrUnknownTier         = errors.New("unknown product tier")
	ErrUnknownSourceMode   = errors.New("unknown domain source mode")
	ErrCandidatesExhausted = errors.New("not enough distinct local parts")
)

// DuplicateEmailsError carries the colliding addresses found by Validate.
type DuplicateEmailsError struct {
	Emails []string
}

func (e *DuplicateEmailsError) Error() string {
	return fmt.Sprintf("%s: %d colliding: %s", ErrDuplicateEmails, len(e.Emails), strings.Join(e.Emails, ", "))
}

func (e *DuplicateEmailsError) Unwrap() error {
	return ErrDuplicateEmails
}

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrMissingPersonas, "missing_personas"},
	{ErrMissingDomains, "missing_domains"},
	{ErrInvalidDomain, "invalid_domain"},
	{ErrDuplicateEmails, "duplicate_emails"},
	{ErrInvalidPersona, "invalid_persona"},
	{ErrInvalidCapacity, "invalid_capacity"},
	{ErrUnknownTier, "unknown_tier"},
	{ErrUnknownSourceMode, "unknown_source_mode"},
	{ErrCandidatesExhausted, "candidates_exhausted"},
}

// Code returns a stable snake_case identifier for err, used as a metric
// label and in API error bodies. Unknown errors map to "internal".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsPrecondition reports whether err is a request problem rather than a
// planner defect. Precondition failures are safe to surface to the caller.
func IsPrecondition(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity,
		ErrMissingPersonas,
		ErrMissingDomains,
		ErrInvalidDomain,
		ErrInvalidPersona,
		ErrInvalidCapacity,
		ErrUnknownTier,
		ErrUnknownSourceMode,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
