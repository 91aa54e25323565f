// Package telemetry provides observability primitives for the warden service.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	ModelDuration     *prometheus.HistogramVec
	ModelErrors       *prometheus.CounterVec
	GovernanceRejects *prometheus.CounterVec
	DailySpendCents   prometheus.Gauge
	BudgetAlerts      *prometheus.CounterVec
	TokensProcessed   *prometheus.CounterVec
	Remediations      prometheus.Counter
	LogQueueLength    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		ModelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "warden",
			Name:                            "model_duration_seconds",
			Help:                            "Upstream model call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"model"}),

		ModelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "model_errors_total",
			Help:      "Total upstream model errors.",
		}, []string{"model"}),

		GovernanceRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "governance_rejects_total",
			Help:      "Total requests rejected by a governance check.",
		}, []string{"check"}),

		DailySpendCents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "daily_spend_cents",
			Help:      "Committed spend for the current UTC day in cents.",
		}),

		BudgetAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "budget_alerts_total",
			Help:      "Total budget threshold alerts fired.",
		}, []string{"threshold"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"type"}),

		Remediations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "remediations_total",
			Help:      "Total conversations remediated by summarization.",
		}),

		LogQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Name:      "log_queue_length",
			Help:      "Current number of queued request log records.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ModelDuration,
		m.ModelErrors,
		m.GovernanceRejects,
		m.DailySpendCents,
		m.BudgetAlerts,
		m.TokensProcessed,
		m.Remediations,
		m.LogQueueLength,
	)

	return m
}
