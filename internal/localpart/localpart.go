// Package localpart generates mailbox local-parts (the part before "@")
// from a sender's first and last name.
//
// Generation is deterministic. Candidates are emitted in a fixed tiered
// order and the result is truncated at the requested count, so a shorter
// request is always a prefix of a longer one for the same inputs.
package localpart

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/foxzi/mailfleet/internal/email"
)

// MaxNumericSuffix caps the numeric-suffix tier.
const MaxNumericSuffix = 1000

// Roles are joined to the first name in the second tier, in this order.
var Roles = []string{
	"contact",
	"sales",
	"info",
	"hello",
	"team",
	"support",
	"office",
	"admin",
	"mail",
	"hi",
}

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// Generate returns up to count unique lower-case local-parts for the
// given name. Candidates that would not fit an address on domain are
// skipped. An empty slice is returned when count <= 0 or when neither
// name contains a usable character.
func Generate(firstName, lastName, domain string, count int) []string {
	if count <= 0 {
		return []string{}
	}

	n := newName(firstName, lastName)
	if n.primary() == "" {
		return []string{}
	}

	c := &collector{
		domain: domain,
		want:   count,
		seen:   make(map[string]struct{}, count),
		out:    make([]string, 0, count),
	}

	for _, candidate := range n.canonical() {
		if c.add(candidate) {
			return c.out
		}
	}

	for _, role := range Roles {
		if c.add(role + "." + n.primary()) {
			return c.out
		}
	}

	bases := n.numericBases()
	for i := 1; i <= MaxNumericSuffix; i++ {
		suffix := strconv.Itoa(i)
		padded := fmt.Sprintf("%02d", i)
		for _, base := range bases {
			if base == "" {
				continue
			}
			if c.add(base + suffix) {
				return c.out
			}
			if padded != suffix && c.add(base+padded) {
				return c.out
			}
		}
	}

	stem := join("", n.first, n.last)
	if stem == "" {
		stem = n.primary()
	}
	for _, a := range alphabet {
		for _, b := range alphabet {
			if c.add(stem + string(a) + string(b)) {
				return c.out
			}
		}
	}
	for _, a := range alphabet {
		for _, b := range alphabet {
			for _, d := range alphabet {
				if c.add(stem + string(a) + string(b) + string(d)) {
					return c.out
				}
			}
		}
	}

	return c.out
}

type name struct {
	first string
	last  string
	fi    string
	li    string
}

func newName(first, last string) name {
	n := name{first: Sanitize(first), last: Sanitize(last)}
	if n.first != "" {
		n.fi = n.first[:1]
	}
	if n.last != "" {
		n.li = n.last[:1]
	}
	return n
}

func (n name) primary() string {
	if n.first != "" {
		return n.first
	}
	return n.last
}

func (n name) canonical() []string {
	return []string{
		n.first,
		join(".", n.first, n.last),
		join(".", n.first, n.li),
		join(".", n.fi, n.last),
		join("", n.first, n.last),
		join("", n.fi, n.last),
		join("_", n.first, n.last),
		join("-", n.first, n.last),
		join(".", n.last, n.first),
		join("", n.last, n.first),
	}
}

func (n name) numericBases() []string {
	return []string{
		n.first,
		join(".", n.first, n.last),
		join("", n.first, n.last),
		join(".", n.fi, n.last),
		join("", n.fi, n.last),
		join("_", n.first, n.last),
		join(".", n.first, n.li),
		join(".", n.last, n.first),
		n.last,
	}
}

// join returns "" when any part is empty so that patterns needing a
// missing name part drop out.
func join(sep string, parts ...string) string {
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return strings.Join(parts, sep)
}

// foldLetters covers Latin letters that have no canonical decomposition.
var foldLetters = strings.NewReplacer(
	"ß", "ss",
	"æ", "ae",
	"œ", "oe",
	"ø", "o",
	"đ", "d",
	"ð", "d",
	"ł", "l",
	"þ", "th",
	"ı", "i",
)

// Sanitize lower-cases s, folds accented Latin letters to ASCII and keeps
// only ASCII letters and digits. Names written entirely in other scripts
// sanitize to "".
func Sanitize(s string) string {
	s = foldLetters.Replace(strings.ToLower(strings.TrimSpace(s)))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type collector struct {
	domain string
	want   int
	seen   map[string]struct{}
	out    []string
}

// add records candidate if it is new and fits the domain, and reports
// whether the requested count has been reached.
func (c *collector) add(candidate string) bool {
	if candidate == "" || !email.FitsLimits(candidate, c.domain) {
		return len(c.out) >= c.want
	}
	if _, ok := c.seen[candidate]; ok {
		return len(c.out) >= c.want
	}
	c.seen[candidate] = struct{}{}
	c.out = append(c.out, candidate)
	return len(c.out) >= c.want
}
