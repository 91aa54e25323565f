package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/storage"
)

const defaultSpendGaugeInterval = 30 * time.Second

// SpendGauge periodically publishes the current UTC day's committed spend
// to a Prometheus gauge. A day with no spend yet reads as zero.
type SpendGauge struct {
	store    storage.LedgerStore
	gauge    prometheus.Gauge
	interval time.Duration
}

// NewSpendGauge creates a SpendGauge. interval <= 0 uses the default.
func NewSpendGauge(store storage.LedgerStore, gauge prometheus.Gauge, interval time.Duration) *SpendGauge {
	if interval <= 0 {
		interval = defaultSpendGaugeInterval
	}
	return &SpendGauge{store: store, gauge: gauge, interval: interval}
}

// Name returns the worker identifier.
func (w *SpendGauge) Name() string { return "spend_gauge" }

// Run refreshes the gauge on a periodic schedule until ctx is cancelled.
func (w *SpendGauge) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *SpendGauge) refresh(ctx context.Context) {
	entry, err := w.store.GetLedger(ctx, warden.DayKey(time.Now()))
	switch {
	case errors.Is(err, warden.ErrNotFound):
		w.gauge.Set(0)
	case err != nil:
		slog.LogAttrs(ctx, slog.LevelError, "spend gauge refresh failed",
			slog.String("error", err.Error()),
		)
	default:
		w.gauge.Set(float64(entry.SpendCents))
	}
}
