// Package quota enforces per-subject daily token allotments. The pre-flight
// reserve is an estimate check against the subject's accumulated usage; the
// post-call commit writes the model's actual usage report via an atomic
// upsert-increment so concurrent requests from one subject serialize at the
// store, not in this process.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// UsageStore is the persistence surface the enforcer needs.
type UsageStore interface {
	// GetDailyTokenUsage returns the row for (subject, day), or
	// warden.ErrNotFound before the subject's first commit of the day.
	GetDailyTokenUsage(ctx context.Context, subject, day string) (*warden.DailyTokenUsage, error)
	// AddDailyTokenUsage atomically adds tokens and one request to the
	// (subject, day) row, creating it if absent.
	AddDailyTokenUsage(ctx context.Context, subject, day string, tokens int64) error
}

// Enforcer tracks accumulated token consumption per authenticated subject
// per calendar day.
type Enforcer struct {
	store UsageStore
	now   func() time.Time
}

// New creates an Enforcer backed by store.
func New(store UsageStore) *Enforcer {
	return &Enforcer{store: store, now: time.Now}
}

// Reserve checks whether estimatedTokens fits in the subject's remaining
// daily allotment. Anonymous identities are exempt: they have no durable
// subject key to attribute usage to and are bounded by the rate limiter's
// low fixed request count instead. A store failure denies.
func (e *Enforcer) Reserve(ctx context.Context, id *warden.Identity, estimatedTokens int64) error {
	if id.Anonymous() {
		return nil
	}
	limit := id.Limits.DailyTokenLimit
	if limit <= 0 {
		return nil
	}

	day := warden.DayKey(e.now())
	row, err := e.store.GetDailyTokenUsage(ctx, id.Subject, day)
	if err != nil {
		if errors.Is(err, warden.ErrNotFound) {
			row = &warden.DailyTokenUsage{Subject: id.Subject, Day: day}
		} else {
			return fmt.Errorf("token usage lookup: %w: %w", warden.ErrStoreUnavailable, err)
		}
	}

	if row.TokensUsed+estimatedTokens > limit {
		return &warden.QuotaError{Used: row.TokensUsed, Limit: limit}
	}
	return nil
}

// Commit records the actual tokens a completed model call consumed, which
// may differ from the reserve estimate. Anonymous callers commit nothing.
func (e *Enforcer) Commit(ctx context.Context, subject string, actualTokens int) error {
	if subject == "" {
		return nil
	}
	day := warden.DayKey(e.now())
	if err := e.store.AddDailyTokenUsage(ctx, subject, day, int64(actualTokens)); err != nil {
		return fmt.Errorf("token usage commit: %w: %w", warden.ErrStoreUnavailable, err)
	}
	return nil
}

// Usage returns the subject's usage row for today, zero-valued if absent.
func (e *Enforcer) Usage(ctx context.Context, subject string) (*warden.DailyTokenUsage, error) {
	day := warden.DayKey(e.now())
	row, err := e.store.GetDailyTokenUsage(ctx, subject, day)
	if errors.Is(err, warden.ErrNotFound) {
		return &warden.DailyTokenUsage{Subject: subject, Day: day}, nil
	}
	return row, err
}
