package allocation

import (
	"sort"
	"strings"
)

// Validate checks that every address in res is unique, ignoring case.
// Plans that do not create inboxes always pass.
func Validate(res *Result) error {
	if res == nil || !res.ShouldCreateInboxes {
		return nil
	}

	counts := make(map[string]int, len(res.Allocations))
	for _, a := range res.Allocations {
		counts[strings.ToLower(a.Email)]++
	}

	var dups []string
	for addr, n := range counts {
		if n > 1 {
			dups = append(dups, addr)
		}
	}
	if len(dups) == 0 {
		return nil
	}

	sort.Strings(dups)
	return &DuplicateEmailsError{Emails: dups}
}
