package telemetry

import (
	"context"
	"log/slog"
	"strconv"
)

// AlertNotifier records budget threshold alerts as metrics in addition to
// logging them.
type AlertNotifier struct {
	Metrics *Metrics
}

// Notify counts the crossed threshold and logs it.
func (n AlertNotifier) Notify(ctx context.Context, day string, pct int, totalCents, capCents int64) {
	n.Metrics.BudgetAlerts.WithLabelValues(strconv.Itoa(pct)).Inc()
	slog.LogAttrs(ctx, slog.LevelWarn, "budget threshold crossed",
		slog.String("day", day),
		slog.Int("threshold_pct", pct),
		slog.Int64("spend_cents", totalCents),
		slog.Int64("cap_cents", capCents),
	)
}
