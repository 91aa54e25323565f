package budget

import "sync"

// breaker is the in-process fast path for the budget circuit breaker.
//
// Unlike a failure-counting breaker there is no half-open probe: once the
// day's spend reaches the cap the breaker stays open until the calendar day
// rolls over, which is the safer shape for budget protection. The breaker
// is advisory per instance; the store's conditional reservation is the
// cross-instance source of truth, so an instance that never trips locally
// still denies via the store.
type breaker struct {
	mu   sync.Mutex
	day  string // day the current state belongs to
	open bool
}

// isOpen reports whether the breaker is open for the given day.
// A new day resets the state: recovery is time-based only.
func (b *breaker) isOpen(day string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.day != day {
		b.day = day
		b.open = false
	}
	return b.open
}

// trip opens the breaker for the given day.
func (b *breaker) trip(day string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.day = day
	b.open = true
}
