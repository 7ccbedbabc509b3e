// Package email provides address helpers shared by the planner and the fulfillment store.
package email

import (
	"net/mail"
	"regexp"
	"strings"
)

// RFC 5321 size limits, in octets.
const (
	MaxLocalPartLength = 64
	MaxAddressLength   = 254
)

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// ValidDomain reports whether domain is a syntactically valid host name
func ValidDomain(domain string) bool {
	return domain != "" && len(domain) <= 253 && domainRegex.MatchString(domain)
}

// NormalizeDomain lower-cases a domain name and strips surrounding
// whitespace and a trailing root dot. Returns empty string for blank input.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimSuffix(domain, ".")
}

// NormalizeDomains normalizes every entry and drops the blank ones.
// Order and repeats are preserved.
func NormalizeDomains(domains []string) []string {
	result := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = NormalizeDomain(d); d != "" {
			result = append(result, d)
		}
	}
	return result
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(address string) string {
	_, domain := split(address)
	return domain
}

// ExtractLocalPart extracts the part before the last "@".
// Returns empty string if the email is invalid.
func ExtractLocalPart(address string) string {
	local, _ := split(address)
	return local
}

// Join builds local@domain.
func Join(localPart, domain string) string {
	return localPart + "@" + domain
}

// FitsLimits reports whether local@domain respects the RFC 5321 length limits.
func FitsLimits(localPart, domain string) bool {
	if localPart == "" || len(localPart) > MaxLocalPartLength {
		return false
	}
	return len(localPart)+1+len(domain) <= MaxAddressLength
}

func split(address string) (string, string) {
	if addr, err := mail.ParseAddress(address); err == nil {
		address = addr.Address
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", ""
	}
	return strings.ToLower(address[:at]), strings.ToLower(address[at+1:])
}
