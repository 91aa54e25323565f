// Package ratelimit enforces fixed-window request limits over multiple time
// windows and scopes using atomic increment-with-expiry against a shared
// counter store. No in-process locks: correctness is pushed into the store,
// which keeps the limiter correct across multiple service instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/counter"
)

// Scope is the dimension a counter is keyed on.
type Scope string

const (
	ScopeAddress Scope = "address"
	ScopeSubject Scope = "subject"
)

// Window is a fixed time bucket over which a count is bounded.
type Window struct {
	Name   string
	Length time.Duration
}

var (
	WindowMinute = Window{Name: "minute", Length: time.Minute}
	WindowHour   = Window{Name: "hour", Length: time.Hour}
	WindowDay    = Window{Name: "day", Length: 24 * time.Hour}
)

// Rule is one (scope, window, max) tuple. Max 0 means the rule is absent.
type Rule struct {
	Scope  Scope
	Window Window
	Max    int64
}

// Limiter checks all applicable rules for an identity against the counter
// store. A rejected request still counts against its windows: increments
// persist on deny, which deters retry storms.
type Limiter struct {
	store counter.Store
}

// New creates a Limiter backed by the given counter store.
func New(store counter.Store) *Limiter {
	return &Limiter{store: store}
}

// rulesFor expands an identity's tier limits into concrete rules.
// Anonymous callers are bounded per address only (there is no subject).
// Authenticated callers get both address- and subject-scoped ceilings,
// evaluated together so multiple accounts behind one address stay bounded.
func rulesFor(id *warden.Identity) []Rule {
	windows := []struct {
		w   Window
		max int64
	}{
		{WindowMinute, id.Limits.RequestsPerMinute},
		{WindowHour, id.Limits.RequestsPerHour},
		{WindowDay, id.Limits.RequestsPerDay},
	}

	rules := make([]Rule, 0, 6)
	for _, wl := range windows {
		if wl.max <= 0 {
			continue
		}
		rules = append(rules, Rule{Scope: ScopeAddress, Window: wl.w, Max: wl.max})
		if !id.Anonymous() {
			rules = append(rules, Rule{Scope: ScopeSubject, Window: wl.w, Max: wl.max})
		}
	}
	return rules
}

// Check evaluates every applicable rule, incrementing each counter exactly
// once. All rules are checked even after the first violation so the denial
// reports the most restrictive applicable limit: among violated rules, the
// one whose window takes longest to roll over, since the caller cannot
// succeed before every violated window has expired.
//
// A store failure fails closed: the request is denied with a non-policy
// error rather than allowed through.
func (l *Limiter) Check(ctx context.Context, id *warden.Identity) error {
	var worst *warden.RateLimitError

	for _, r := range rulesFor(id) {
		key := keyFor(r, id)
		n, expiresIn, err := l.store.Incr(ctx, key, r.Window.Length)
		if err != nil {
			return fmt.Errorf("rate limit counter %s: %w: %w", key, warden.ErrStoreUnavailable, err)
		}
		if n <= r.Max {
			continue
		}
		if worst == nil || expiresIn > worst.RetryAfter {
			worst = &warden.RateLimitError{
				Scope:      string(r.Scope),
				Window:     r.Window.Name,
				Limit:      r.Max,
				RetryAfter: expiresIn,
			}
		}
	}

	if worst != nil {
		return worst
	}
	return nil
}

func keyFor(r Rule, id *warden.Identity) string {
	switch r.Scope {
	case ScopeSubject:
		return "rl:subject:" + id.Subject + ":" + r.Window.Name
	default:
		return "rl:address:" + id.Addr + ":" + r.Window.Name
	}
}
