package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil {
		t.Error("RequestsTotal is nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.GovernanceRejects == nil {
		t.Error("GovernanceRejects is nil")
	}
	if m.DailySpendCents == nil {
		t.Error("DailySpendCents is nil")
	}
	if m.TokensProcessed == nil {
		t.Error("TokensProcessed is nil")
	}
	if m.Remediations == nil {
		t.Error("Remediations is nil")
	}
	if m.LogQueueLength == nil {
		t.Error("LogQueueLength is nil")
	}

	// Verify metrics can be gathered without error.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected at least one metric family")
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/v1/chat", "200").Inc()
	m.GovernanceRejects.WithLabelValues("rate_limit").Inc()
	m.DailySpendCents.Set(420)
	m.TokensProcessed.WithLabelValues("input").Add(100)
	m.RequestDuration.WithLabelValues("POST", "/v1/chat").Observe(0.123)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"warden_requests_total",
		"warden_governance_rejects_total",
		"warden_daily_spend_cents",
		"warden_tokens_processed_total",
		"warden_request_duration_seconds",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
