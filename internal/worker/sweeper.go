package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardenlabs/warden/internal/storage"
)

const defaultSweepInterval = 10 * time.Minute

// CounterSweeper periodically deletes expired rate limit counter rows.
// Expired counters are already ignored by window-keyed lookups; sweeping
// only bounds table growth.
type CounterSweeper struct {
	store    storage.CounterStore
	interval time.Duration
}

// NewCounterSweeper creates a CounterSweeper. interval <= 0 uses the default.
func NewCounterSweeper(store storage.CounterStore, interval time.Duration) *CounterSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &CounterSweeper{store: store, interval: interval}
}

// Name returns the worker identifier.
func (w *CounterSweeper) Name() string { return "counter_sweeper" }

// Run sweeps expired counters on a periodic schedule until ctx is cancelled.
func (w *CounterSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.store.SweepCounters(ctx)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "counter sweep failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if n > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "swept expired counters",
					slog.Int("count", n),
				)
			}
		}
	}
}
