package allocation

import (
	"fmt"

	"github.com/foxzi/mailfleet/internal/email"
	"github.com/foxzi/mailfleet/internal/localpart"
)

// minPoolSize is the smallest candidate pool generated for a pair.
const minPoolSize = 50

type poolKey struct {
	persona int
	domain  string
}

// pool is the candidate sequence for one (persona, domain) pair. It grows
// on demand; localpart.Generate is prefix-stable so regenerating with a
// larger count only appends.
type pool struct {
	persona    Persona
	domain     string
	candidates []string
	exhausted  bool
}

// ensure grows the pool to hold at least n candidates, if the generator can.
func (p *pool) ensure(n int) {
	if n <= len(p.candidates) || p.exhausted {
		return
	}
	size := max(n, 2*len(p.candidates), minPoolSize)
	p.candidates = localpart.Generate(p.persona.FirstName, p.persona.LastName, p.domain, size)
	if len(p.candidates) < size {
		p.exhausted = true
	}
}

func (p *pool) at(i int) (string, bool) {
	p.ensure(i + 1)
	if i >= len(p.candidates) {
		return "", false
	}
	return p.candidates[i], true
}

// drawer hands out addresses for one Distribute call and remembers which
// ones are taken so two personas never share an address.
type drawer struct {
	pools map[poolKey]*pool
	taken map[string]struct{}
}

func newDrawer(total int) *drawer {
	return &drawer{
		pools: make(map[poolKey]*pool),
		taken: make(map[string]struct{}, total),
	}
}

// draw returns count allocations for persona on domain, reading the
// persona's candidates from offset. It returns the offset just past the
// last candidate consumed.
func (d *drawer) draw(personaIdx int, persona Persona, domain string, slot, offset, count int) ([]Allocation, int, error) {
	key := poolKey{persona: personaIdx, domain: domain}
	p, ok := d.pools[key]
	if !ok {
		p = &pool{persona: persona, domain: domain}
		d.pools[key] = p
	}
	p.ensure(offset + count)

	out := make([]Allocation, 0, count)
	for len(out) < count {
		lp, ok := p.at(offset)
		if !ok {
			return nil, offset, fmt.Errorf("%s on %s after %d candidates: %w",
				persona, domain, offset, ErrCandidatesExhausted)
		}
		offset++

		addr := email.Join(lp, domain)
		if _, dup := d.taken[addr]; dup {
			continue
		}
		d.taken[addr] = struct{}{}
		out = append(out, Allocation{
			Email:   addr,
			Persona: persona,
			Domain:  domain,
			Slot:    slot,
		})
	}
	return out, offset, nil
}
