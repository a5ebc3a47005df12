package secrets

import (
	"sync"
	"time"
)

// rateLimiter enforces the default 10/min and 100/hour per-accessor secret
// access limits (spec.md §4.4, §5). Grounded on a simple sliding window
// rather than a token bucket so both windows can be checked independently.
type rateLimiter struct {
	mu       sync.Mutex
	perMin   int
	perHour  int
	accesses map[string][]time.Time
	now      func() time.Time
}

func newRateLimiter(perMin, perHour int) *rateLimiter {
	return &rateLimiter{
		perMin:   perMin,
		perHour:  perHour,
		accesses: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether accessorID may make another access now, and if so
// records the access.
func (r *rateLimiter) Allow(accessorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	hourCutoff := now.Add(-time.Hour)

	hist := r.accesses[accessorID]
	kept := hist[:0]
	for _, t := range hist {
		if t.After(hourCutoff) {
			kept = append(kept, t)
		}
	}

	minCutoff := now.Add(-time.Minute)
	inLastMinute := 0
	for _, t := range kept {
		if t.After(minCutoff) {
			inLastMinute++
		}
	}

	if len(kept) >= r.perHour || inLastMinute >= r.perMin {
		r.accesses[accessorID] = kept
		return false
	}

	r.accesses[accessorID] = append(kept, now)
	return true
}
