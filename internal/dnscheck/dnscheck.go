// Package dnscheck reports whether sending domains are ready to host inboxes.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/mailfleet/internal/dns"
	"github.com/foxzi/mailfleet/internal/email"
)

// maxConcurrentChecks bounds the domains checked at once
const maxConcurrentChecks = 8

var ErrInvalidDomain = errors.New("invalid domain name")

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if !email.ValidDomain(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// Status of a single check
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// Resolver is the lookup surface the checks need. *dns.Resolver and
// *net.Resolver both satisfy it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// CheckResult represents a single DNS check result
type CheckResult struct {
	Type    string `json:"type"`
	Status  Status `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// DomainCheckResult contains all DNS check results for a domain
type DomainCheckResult struct {
	Domain  string        `json:"domain"`
	Ready   bool          `json:"ready"`
	Results []CheckResult `json:"results"`
	Summary Summary       `json:"summary"`
	Error   string        `json:"error,omitempty"`
}

// Summary contains check statistics
type Summary struct {
	OK       int `json:"ok"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
	NotFound int `json:"not_found"`
}

// Checker runs readiness checks against a resolver
type Checker struct {
	resolver Resolver
}

// NewChecker creates a checker. A nil resolver uses a caching resolver
// over the system resolver.
func NewChecker(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = dns.NewResolver(5*time.Minute, nil)
	}
	return &Checker{resolver: resolver}
}

// CheckDomain checks MX, SPF and DMARC for one domain. A domain is ready
// when it has MX records and an SPF record.
func (c *Checker) CheckDomain(ctx context.Context, domain string) (*DomainCheckResult, error) {
	domain = email.NormalizeDomain(domain)
	if err := ValidateDomain(domain); err != nil {
		return nil, fmt.Errorf("%q: %w", domain, err)
	}

	mx := c.checkMX(ctx, domain)
	spf := c.checkSPF(ctx, domain)
	dmarc := c.checkDMARC(ctx, domain)

	result := &DomainCheckResult{
		Domain:  domain,
		Results: []CheckResult{mx, spf, dmarc},
		Ready:   mx.Status == StatusOK && (spf.Status == StatusOK || spf.Status == StatusWarning),
	}

	for _, r := range result.Results {
		switch r.Status {
		case StatusOK:
			result.Summary.OK++
		case StatusWarning:
			result.Summary.Warnings++
		case StatusError:
			result.Summary.Errors++
		case StatusNotFound:
			result.Summary.NotFound++
		}
	}

	return result, nil
}

// CheckDomains checks domains concurrently, de-duplicated after
// normalization, in input order. Invalid names get a result with Error set.
func (c *Checker) CheckDomains(ctx context.Context, domains []string) []*DomainCheckResult {
	var names []string
	seen := make(map[string]bool)
	for _, name := range email.NormalizeDomains(domains) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	results := make([]*DomainCheckResult, len(names))

	var g errgroup.Group
	g.SetLimit(maxConcurrentChecks)
	for i, name := range names {
		g.Go(func() error {
			res, err := c.CheckDomain(ctx, name)
			if err != nil {
				res = &DomainCheckResult{Domain: name, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	return results
}

func (c *Checker) checkMX(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "MX Records"}

	mxRecords, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		if dns.IsNotFound(err) {
			result.Status = StatusNotFound
			result.Message = "No MX records found"
			return result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return result
	}

	if len(mxRecords) == 0 {
		result.Status = StatusNotFound
		result.Message = "No MX records found"
		return result
	}

	var values []string
	for _, mx := range mxRecords {
		values = append(values, fmt.Sprintf("%s (priority %d)", strings.TrimSuffix(mx.Host, "."), mx.Pref))
	}
	result.Status = StatusOK
	result.Value = strings.Join(values, ", ")
	result.Message = fmt.Sprintf("%d MX record(s) found", len(mxRecords))

	return result
}

func (c *Checker) checkSPF(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "SPF Record"}

	txtRecords, err := c.resolver.LookupTXT(ctx, domain)
	if err != nil {
		if dns.IsNotFound(err) {
			result.Status = StatusNotFound
			result.Message = "No SPF record found"
			return result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return result
	}

	for _, txt := range txtRecords {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}

		result.Status = StatusOK
		result.Value = txt

		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF uses +all (allows any sender)"
		case strings.Contains(txt, "-all"):
			result.Message = "SPF configured with strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "SPF configured with soft fail (~all)"
		}

		return result
	}

	result.Status = StatusNotFound
	result.Message = "No SPF record found"
	return result
}

func (c *Checker) checkDMARC(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "DMARC Record"}

	txtRecords, err := c.resolver.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		if dns.IsNotFound(err) {
			result.Status = StatusNotFound
			result.Message = "No DMARC record found (recommended)"
			return result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return result
	}

	fullRecord := strings.Join(txtRecords, "")

	if !strings.HasPrefix(fullRecord, "v=DMARC1") {
		result.Status = StatusWarning
		result.Value = fullRecord
		result.Message = "TXT record found but doesn't appear to be a valid DMARC record"
		return result
	}

	result.Status = StatusOK
	result.Value = fullRecord

	switch {
	case strings.Contains(fullRecord, "p=reject"):
		result.Message = "DMARC configured with reject policy"
	case strings.Contains(fullRecord, "p=quarantine"):
		result.Message = "DMARC configured with quarantine policy"
	case strings.Contains(fullRecord, "p=none"):
		result.Status = StatusWarning
		result.Message = "DMARC configured with none policy (monitoring only)"
	}

	return result
}
