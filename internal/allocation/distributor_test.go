package allocation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var (
	jane = Persona{FirstName: "Jane", LastName: "Doe"}
	john = Persona{FirstName: "John", LastName: "Smith"}
	ana  = Persona{FirstName: "Ana", LastName: "Lopez"}
)

func intPtr(v int) *int { return &v }

func emails(allocs []Allocation) []string {
	out := make([]string, len(allocs))
	for i, a := range allocs {
		out[i] = a.Email
	}
	return out
}

func TestDistributeMicrosoftSingleDomain(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            TierMicrosoft,
		SourceMode:      SourceOwn,
		TotalInboxes:    100,
		Personas:        []Persona{jane, john},
		ProvidedDomains: []string{"acme.com"},
	})
	require.NoError(t, err)

	assert.True(t, res.ShouldCreateInboxes)
	assert.Equal(t, 1, res.DomainsNeeded)
	assert.Equal(t, []string{"acme.com"}, res.DomainsUsed)
	assert.Equal(t, []int{100}, res.DomainInboxes)
	assert.Equal(t, 50, res.Capacity)
	require.Len(t, res.Allocations, 100)
	assert.Equal(t, map[string]int{"Jane Doe": 50, "John Smith": 50}, res.ByPersona())

	for _, a := range res.Allocations {
		assert.True(t, strings.HasSuffix(a.Email, "@acme.com"), a.Email)
		assert.Equal(t, "acme.com", a.Domain)
		assert.Equal(t, 0, a.Slot)
	}
	assert.NoError(t, Validate(res))
}

func TestDistributeMicrosoftIgnoresExtraDomains(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            TierMicrosoft,
		SourceMode:      SourceOwn,
		TotalInboxes:    2000,
		Personas:        []Persona{jane},
		ProvidedDomains: []string{"one.com", "two.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.DomainsNeeded)
	assert.Equal(t, []string{"one.com"}, res.DomainsUsed)
	assert.Len(t, res.Allocations, 2000)
	assert.NoError(t, Validate(res))
}

func TestDistributeResellerOddRemainder(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            TierReseller,
		SourceMode:      SourceOwn,
		TotalInboxes:    10,
		Personas:        []Persona{jane, john, ana},
		ProvidedDomains: []string{"a.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.DomainsNeeded)
	assert.Equal(t, []string{"a.com", "a.com", "a.com", "a.com"}, res.DomainsUsed)
	assert.Equal(t, []int{3, 3, 2, 2}, res.DomainInboxes)
	require.Len(t, res.Allocations, 10)

	perSlot := make([]int, res.DomainsNeeded)
	for _, a := range res.Allocations {
		perSlot[a.Slot]++
	}
	assert.Equal(t, res.DomainInboxes, perSlot)
	assert.Equal(t, map[string]int{"Jane Doe": 4, "John Smith": 4, "Ana Lopez": 2}, res.ByPersona())

	assert.Equal(t, []string{
		"jane@a.com", "john@a.com", "ana@a.com",
		"jane.doe@a.com", "john.smith@a.com", "ana.lopez@a.com",
		"jane.d@a.com", "john.s@a.com",
		"j.doe@a.com", "j.smith@a.com",
	}, emails(res.Allocations))
	assert.NoError(t, Validate(res))
}

func TestDistributeCyclesDomains(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            TierEDU,
		SourceMode:      SourceOwn,
		TotalInboxes:    12,
		Personas:        []Persona{jane},
		ProvidedDomains: []string{"a.com", "b.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.com", "b.com", "a.com", "b.com"}, res.DomainsUsed)
	assert.Equal(t, []string{
		"jane@a.com", "jane.doe@a.com", "jane.d@a.com",
		"j.doe@b.com", "janedoe@b.com", "jdoe@b.com",
		"jane_doe@a.com", "jane-doe@a.com", "doe.jane@a.com",
		"doejane@b.com", "contact.jane@b.com", "sales.jane@b.com",
	}, emails(res.Allocations))
}

func TestDistributeDeferred(t *testing.T) {
	res, err := Distribute(Request{
		Tier:         TierEDU,
		SourceMode:   SourceDeferred,
		TotalInboxes: 47,
		Personas:     []Persona{jane},
	})
	require.NoError(t, err)

	assert.False(t, res.ShouldCreateInboxes)
	assert.Equal(t, 3, res.Capacity)
	assert.Equal(t, 16, res.DomainsNeeded)
	assert.Empty(t, res.Allocations)
	assert.Empty(t, res.DomainsUsed)
	assert.Contains(t, res.Message, "16 domains")
	assert.NoError(t, Validate(res))
}

func TestDistributeCapacityOverride(t *testing.T) {
	tests := []struct {
		tier     Tier
		override *int
		total    int
		want     int
	}{
		{TierReseller, intPtr(10), 100, 10},
		{TierAWS, intPtr(4), 10, 3},
		{TierLegacy, nil, 10, 4},
		{TierPrewarmed, intPtr(10), 100, 20},
		{TierPrewarmed, intPtr(0), 12, 3},
	}

	for _, tc := range tests {
		t.Run(string(tc.tier), func(t *testing.T) {
			res, err := Distribute(Request{
				Tier:             tc.tier,
				SourceMode:       SourceOwn,
				TotalInboxes:     tc.total,
				Personas:         []Persona{jane, john},
				ProvidedDomains:  []string{"x.io"},
				InboxesPerDomain: tc.override,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.DomainsNeeded)
			assert.Len(t, res.DomainsUsed, tc.want)
		})
	}
}

func TestDistributePreconditions(t *testing.T) {
	valid := func() Request {
		return Request{
			Tier:            TierReseller,
			SourceMode:      SourceOwn,
			TotalInboxes:    30,
			Personas:        []Persona{jane},
			ProvidedDomains: []string{"a.com"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"too few", func(r *Request) { r.TotalInboxes = 5 }, ErrInvalidQuantity},
		{"too many", func(r *Request) { r.TotalInboxes = 2001 }, ErrInvalidQuantity},
		{"quantity checked first", func(r *Request) { r.TotalInboxes = 5; r.Personas = nil; r.Tier = "bogus" }, ErrInvalidQuantity},
		{"no personas", func(r *Request) { r.Personas = nil }, ErrMissingPersonas},
		{"blank persona", func(r *Request) { r.Personas = []Persona{jane, {FirstName: " "}} }, ErrInvalidPersona},
		{"cyrillic persona", func(r *Request) { r.Personas = []Persona{{FirstName: "Иван", LastName: "Петров"}} }, ErrInvalidPersona},
		{"cjk persona", func(r *Request) { r.Personas = []Persona{jane, {FirstName: "李", LastName: "王"}} }, ErrInvalidPersona},
		{"punctuation persona", func(r *Request) { r.Personas = []Persona{{FirstName: "!!", LastName: "--"}} }, ErrInvalidPersona},
		{"no domains", func(r *Request) { r.ProvidedDomains = nil }, ErrMissingDomains},
		{"blank domains", func(r *Request) { r.ProvidedDomains = []string{" ", ""} }, ErrMissingDomains},
		{"invalid domain", func(r *Request) { r.ProvidedDomains = []string{"a.com", "not a domain!"} }, ErrInvalidDomain},
		{"domain with path", func(r *Request) { r.ProvidedDomains = []string{"../etc"} }, ErrInvalidDomain},
		{"unknown tier", func(r *Request) { r.Tier = "gold" }, ErrUnknownTier},
		{"unknown mode", func(r *Request) { r.SourceMode = "rent" }, ErrUnknownSourceMode},
		{"zero override", func(r *Request) { r.InboxesPerDomain = intPtr(0) }, ErrInvalidCapacity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid()
			tc.mutate(&req)

			res, err := Distribute(req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, IsPrecondition(err))
		})
	}
}

func TestDistributeDeferredNeedsNoDomains(t *testing.T) {
	res, err := Distribute(Request{
		Tier:         TierMicrosoft,
		SourceMode:   SourceDeferred,
		TotalInboxes: 120,
		Personas:     []Persona{jane},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.DomainsNeeded)
}

func TestDistributeNormalizesInput(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            "  RESELLER ",
		SourceMode:      "Own",
		TotalInboxes:    10,
		Personas:        []Persona{jane},
		ProvidedDomains: []string{" ", " Acme.COM. "},
	})
	require.NoError(t, err)

	for _, d := range res.DomainsUsed {
		assert.Equal(t, "acme.com", d)
	}
	assert.Equal(t, "jane@acme.com", res.Allocations[0].Email)
}

func TestDistributeFoldsAccentedNames(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            TierReseller,
		SourceMode:      SourceOwn,
		TotalInboxes:    10,
		Personas:        []Persona{{FirstName: "Émile", LastName: "Zola"}, {FirstName: "Søren", LastName: "Kierkegaard"}},
		ProvidedDomains: []string{"acme.com"},
	})
	require.NoError(t, err)
	require.NoError(t, Validate(res))

	got := emails(res.Allocations)
	assert.Contains(t, got, "emile@acme.com")
	assert.Contains(t, got, "soren@acme.com")
	assert.Len(t, res.Allocations, 10)
}

func TestDistributeMixedScriptPersona(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            TierReseller,
		SourceMode:      SourceOwn,
		TotalInboxes:    10,
		Personas:        []Persona{{FirstName: "Иван", LastName: "Smith"}},
		ProvidedDomains: []string{"acme.com"},
	})
	require.NoError(t, err)
	require.Len(t, res.Allocations, 10)
	assert.Equal(t, "contact.smith@acme.com", res.Allocations[0].Email)
}

func TestDistributeConcurrent(t *testing.T) {
	requests := []Request{
		{Tier: TierAWS, SourceMode: SourceOwn, TotalInboxes: 333,
			Personas: []Persona{jane, john, ana}, ProvidedDomains: []string{"a.com", "b.com", "c.com"}},
		{Tier: TierMicrosoft, SourceMode: SourceOwn, TotalInboxes: 120,
			Personas: []Persona{jane, john}, ProvidedDomains: []string{"acme.com"}},
		{Tier: TierPrewarmed, SourceMode: SourceOwn, TotalInboxes: 47,
			Personas: []Persona{ana}, ProvidedDomains: []string{"x.com", "y.com"}},
		{Tier: TierEDU, SourceMode: SourceDeferred, TotalInboxes: 47, Personas: []Persona{jane}},
	}

	dist := NewDistributor(DefaultPolicy())
	want := make([][]byte, len(requests))
	for i, req := range requests {
		res, err := dist.Distribute(req)
		require.NoError(t, err)
		want[i], err = json.Marshal(res)
		require.NoError(t, err)
	}

	const rounds = 16
	got := make([][]byte, rounds*len(requests))

	var g errgroup.Group
	for i := range got {
		g.Go(func() error {
			res, err := dist.Distribute(requests[i%len(requests)])
			if err != nil {
				return err
			}
			got[i], err = json.Marshal(res)
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, data := range got {
		assert.Equal(t, string(want[i%len(requests)]), string(data), "run %d", i)
	}
}

func TestDistributeSharedLocalPartsStayUnique(t *testing.T) {
	johnDoe := Persona{FirstName: "John", LastName: "Doe"}

	res, err := Distribute(Request{
		Tier:            TierMicrosoft,
		SourceMode:      SourceOwn,
		TotalInboxes:    20,
		Personas:        []Persona{jane, johnDoe},
		ProvidedDomains: []string{"acme.com"},
	})
	require.NoError(t, err)
	require.NoError(t, Validate(res))

	assert.Contains(t, emails(res.Allocations), "j.doe@acme.com")
	assert.Equal(t, map[string]int{"Jane Doe": 10, "John Doe": 10}, res.ByPersona())
}

func TestDistributeIdenticalPersonas(t *testing.T) {
	res, err := Distribute(Request{
		Tier:            TierReseller,
		SourceMode:      SourceOwn,
		TotalInboxes:    60,
		Personas:        []Persona{jane, jane, jane},
		ProvidedDomains: []string{"a.com"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Allocations, 60)
	assert.NoError(t, Validate(res))
}

func TestDistributeDeterministic(t *testing.T) {
	req := Request{
		Tier:            TierAWS,
		SourceMode:      SourceOwn,
		TotalInboxes:    333,
		Personas:        []Persona{jane, john, ana},
		ProvidedDomains: []string{"a.com", "b.com", "c.com"},
	}

	first, err := Distribute(req)
	require.NoError(t, err)
	second, err := Distribute(req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDistributeProperties(t *testing.T) {
	personaSets := [][]Persona{
		{jane},
		{jane, john},
		{jane, john, ana},
		{jane, john, ana, {FirstName: "Cher"}},
	}
	domainSets := [][]string{
		{"a.com"},
		{"a.com", "b.com"},
		{"a.com", "b.com", "c.com", "d.com", "e.com"},
	}

	for _, tier := range Tiers {
		for _, total := range []int{10, 11, 47, 100, 999, 2000} {
			for _, personas := range personaSets {
				for _, domains := range domainSets {
					name := fmt.Sprintf("%s/%d/%dp/%dd", tier, total, len(personas), len(domains))
					t.Run(name, func(t *testing.T) {
						res, err := Distribute(Request{
							Tier:            tier,
							SourceMode:      SourceOwn,
							TotalInboxes:    total,
							Personas:        personas,
							ProvidedDomains: domains,
						})
						require.NoError(t, err)

						assert.Len(t, res.Allocations, total)
						assert.Len(t, res.DomainsUsed, res.DomainsNeeded)
						assert.Len(t, res.DomainInboxes, res.DomainsNeeded)
						if tier == TierMicrosoft {
							assert.Equal(t, 1, res.DomainsNeeded)
						} else {
							assert.Equal(t, Quote(tier, total, nil), res.DomainsNeeded)
						}

						sum := 0
						for _, n := range res.DomainInboxes {
							sum += n
						}
						assert.Equal(t, total, sum)
						assert.NoError(t, Validate(res))
					})
				}
			}
		}
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, 16, Quote(TierEDU, 47, nil))
	assert.Equal(t, 10, Quote(TierPrewarmed, 47, nil))
	assert.Equal(t, 1, Quote(TierMicrosoft, 47, nil))
	assert.Equal(t, 5, Quote(TierLegacy, 47, intPtr(10)))
	assert.Equal(t, 0, Quote(TierLegacy, 0, nil))
	assert.Equal(t, 16, Quote(TierLegacy, 47, intPtr(0)))
}

func TestNewDistributorPolicy(t *testing.T) {
	d := NewDistributor(Policy{MinInboxes: 1, MaxInboxes: 20})
	_, err := d.Distribute(Request{
		Tier:            TierReseller,
		SourceMode:      SourceOwn,
		TotalInboxes:    2,
		Personas:        []Persona{jane},
		ProvidedDomains: []string{"a.com"},
	})
	require.NoError(t, err)

	_, err = d.Distribute(Request{
		Tier:            TierReseller,
		SourceMode:      SourceOwn,
		TotalInboxes:    21,
		Personas:        []Persona{jane},
		ProvidedDomains: []string{"a.com"},
	})
	assert.True(t, errors.Is(err, ErrInvalidQuantity))

	assert.Equal(t, DefaultPolicy(), NewDistributor(Policy{}).Policy())
}

func TestEstimate(t *testing.T) {
	d := NewDistributor(DefaultPolicy())

	res, err := d.Estimate("EDU", 47, nil)
	require.NoError(t, err)
	assert.False(t, res.ShouldCreateInboxes)
	assert.Equal(t, 16, res.DomainsNeeded)
	assert.Equal(t, 3, res.Capacity)

	res, err = d.Estimate(TierReseller, 100, intPtr(10))
	require.NoError(t, err)
	assert.Equal(t, 10, res.DomainsNeeded)

	_, err = d.Estimate(TierReseller, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = d.Estimate("nope", 30, nil)
	assert.ErrorIs(t, err, ErrUnknownTier)
	_, err = d.Estimate(TierAWS, 30, intPtr(-2))
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}
