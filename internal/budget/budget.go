// Package budget maintains the global daily spend ledger with threshold
// alerting and a hard circuit breaker at the configured cap.
//
// Before any model call the estimated cost is reserved speculatively: it is
// added to today's row only if the result stays within the cap, and it is
// never rolled back, even when the downstream call fails. Actual costs are
// committed on top rather than reconciling the estimate. Spend is strictly
// ratcheted upward; total recorded spend can exceed the cap by at most one
// in-flight request's estimate.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// LedgerStore is the persistence surface for the daily spend ledger.
// Every mutation must be atomic at the store: the reserve is a single
// conditional upsert-increment, never a read-compare-write here.
type LedgerStore interface {
	// ReserveSpend adds cents to the day's row iff the new total stays at
	// or under capCents. It returns the row's spend total after the
	// attempt and whether the reservation applied.
	ReserveSpend(ctx context.Context, day string, cents, capCents int64) (total int64, ok bool, err error)
	// CommitSpend adds actual cost, tokens and one request to the day's
	// row, tracking subject for the unique-subject count. Returns the new
	// spend total.
	CommitSpend(ctx context.Context, day string, cents, tokens int64, subject string) (total int64, err error)
	// MarkAlerted raises the day's alerted threshold to pct if it is
	// currently lower, reporting whether this call won the race.
	MarkAlerted(ctx context.Context, day string, pct int) (fired bool, err error)
	// GetLedger returns the day's row, or warden.ErrNotFound before the
	// first spend of the day.
	GetLedger(ctx context.Context, day string) (*warden.LedgerEntry, error)
}

// Notifier receives at-most-once-per-day threshold alerts.
type Notifier interface {
	Notify(ctx context.Context, day string, pct int, totalCents, capCents int64)
}

// LogNotifier is the default Notifier; it logs through slog.
type LogNotifier struct{}

// Notify logs the crossed threshold.
func (LogNotifier) Notify(ctx context.Context, day string, pct int, totalCents, capCents int64) {
	slog.LogAttrs(ctx, slog.LevelWarn, "budget threshold crossed",
		slog.String("day", day),
		slog.Int("threshold_pct", pct),
		slog.Int64("spend_cents", totalCents),
		slog.Int64("cap_cents", capCents),
	)
}

// Ledger is the global spend ledger and its circuit breaker.
type Ledger struct {
	store      LedgerStore
	capCents   int64
	thresholds []int // ascending percentages, e.g. 50, 75, 90
	notifier   Notifier
	breaker    breaker
	now        func() time.Time
}

// New creates a Ledger with the given cap (minor units) and alert
// thresholds. A nil notifier falls back to LogNotifier.
func New(store LedgerStore, capCents int64, thresholds []int, notifier Notifier) *Ledger {
	ts := make([]int, len(thresholds))
	copy(ts, thresholds)
	sort.Ints(ts)
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Ledger{
		store:      store,
		capCents:   capCents,
		thresholds: ts,
		notifier:   notifier,
		now:        time.Now,
	}
}

// CheckAndReserve speculatively reserves the estimated cost against today's
// cap. Once the breaker is open all calls deny until the calendar day rolls
// over; recovery is time-based only. Store failures deny.
func (l *Ledger) CheckAndReserve(ctx context.Context, estimatedCents int64) error {
	if l.capCents <= 0 {
		return nil
	}
	day := warden.DayKey(l.now())
	if l.breaker.isOpen(day) {
		return warden.ErrBudgetExhausted
	}

	total, ok, err := l.store.ReserveSpend(ctx, day, estimatedCents, l.capCents)
	if err != nil {
		return fmt.Errorf("budget reserve: %w: %w", warden.ErrStoreUnavailable, err)
	}
	if total >= l.capCents {
		// The breaker is a local fast path; the store reservation above is
		// what keeps multiple instances correct.
		l.breaker.trip(day)
	}
	if !ok {
		return warden.ErrBudgetExhausted
	}
	return nil
}

// Commit records a completed call's actual cost and token usage, then runs
// the inline threshold check. Alerts fire at most once per threshold per
// day, arbitrated by the store.
func (l *Ledger) Commit(ctx context.Context, actualCents, actualTokens int64, subject string) error {
	if l.capCents <= 0 {
		return nil
	}
	day := warden.DayKey(l.now())
	total, err := l.store.CommitSpend(ctx, day, actualCents, actualTokens, subject)
	if err != nil {
		return fmt.Errorf("budget commit: %w: %w", warden.ErrStoreUnavailable, err)
	}
	if total >= l.capCents {
		l.breaker.trip(day)
	}
	l.checkThresholds(ctx, day, total)
	return nil
}

// checkThresholds fires the highest newly-crossed threshold, if any.
func (l *Ledger) checkThresholds(ctx context.Context, day string, totalCents int64) {
	crossed := 0
	for _, pct := range l.thresholds {
		if totalCents*100 >= l.capCents*int64(pct) {
			crossed = pct
		}
	}
	if crossed == 0 {
		return
	}
	fired, err := l.store.MarkAlerted(ctx, day, crossed)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "budget alert mark failed",
			slog.String("day", day),
			slog.String("error", err.Error()),
		)
		return
	}
	if fired {
		l.notifier.Notify(ctx, day, crossed, totalCents, l.capCents)
	}
}

// Today returns today's ledger row, zero-valued before the first spend.
func (l *Ledger) Today(ctx context.Context) (*warden.LedgerEntry, error) {
	day := warden.DayKey(l.now())
	entry, err := l.store.GetLedger(ctx, day)
	if err != nil {
		if errors.Is(err, warden.ErrNotFound) {
			return &warden.LedgerEntry{Day: day}, nil
		}
		return nil, err
	}
	return entry, nil
}

// CapCents returns the configured daily cap.
func (l *Ledger) CapCents() int64 { return l.capCents }
