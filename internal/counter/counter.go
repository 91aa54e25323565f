// Package counter defines the atomic counter store used by the rate limiter.
//
// The defining correctness rule of the governance layer is that every
// check-and-increment is a single atomic operation against the store, never
// a read-compare-write in the application. Implementations provide
// increment-with-expiry natively: the in-memory store here for tests and
// single-process runs, the SQLite store in storage/sqlite for deployments
// where several instances share one database.
package counter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is an atomic fixed-window counter store.
type Store interface {
	// Incr increments the counter for key in the window containing now and
	// returns the post-increment value together with the time remaining
	// until the window expires. Counters are created on first increment and
	// destroyed by expiry; callers never delete them.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, expiresIn time.Duration, err error)
}

// WindowKey composes the full counter key for a base key and the window
// boundary containing now. Day-length windows align to UTC calendar days.
func WindowKey(key string, window time.Duration, now time.Time) (string, time.Time) {
	start := now.UTC().Truncate(window)
	return fmt.Sprintf("%s:%d", key, start.Unix()), start
}

// Memory is an in-process counter store. Atomicity comes from a single
// mutex; expiry is lazy on access plus an explicit Sweep for the
// background sweeper.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*memEntry
}

type memEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemory creates an empty in-memory counter store.
func NewMemory() *Memory {
	return &Memory{counters: make(map[string]*memEntry)}
}

// Incr implements Store.
func (m *Memory) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := time.Now()
	fullKey, start := WindowKey(key, window, now)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.counters[fullKey]
	if !ok || !now.Before(e.expiresAt) {
		e = &memEntry{expiresAt: start.Add(window)}
		m.counters[fullKey] = e
	}
	e.count++
	return e.count, e.expiresAt.Sub(now), nil
}

// Sweep removes expired counters and reports how many were deleted.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for k, e := range m.counters {
		if !now.Before(e.expiresAt) {
			delete(m.counters, k)
			deleted++
		}
	}
	return deleted, nil
}
