package allocation

// DefaultCapacity is the inboxes-per-domain used when no override is given.
const DefaultCapacity = 3

const (
	prewarmedCapacity = 5
	microsoftCapacity = 50
)

// Capacity returns how many inboxes one domain holds for tier.
// Prewarmed and Microsoft capacities are fixed and ignore override.
func Capacity(tier Tier, override *int) int {
	switch tier {
	case TierPrewarmed:
		return prewarmedCapacity
	case TierMicrosoft:
		return microsoftCapacity
	}
	if override != nil {
		return *override
	}
	return DefaultCapacity
}

// acceptsOverride reports whether Capacity honours an override for tier.
func acceptsOverride(tier Tier) bool {
	return tier != TierPrewarmed && tier != TierMicrosoft
}

// Split distributes total items over n ordered buckets. Sizes differ by at
// most one and the earlier buckets absorb the remainder.
func Split(total, n int) []int {
	if n <= 0 {
		return nil
	}
	if total < 0 {
		total = 0
	}

	base, rem := total/n, total%n
	buckets := make([]int, n)
	for i := range buckets {
		buckets[i] = base
		if i < rem {
			buckets[i]++
		}
	}
	return buckets
}

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
