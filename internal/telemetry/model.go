package telemetry

import (
	"context"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// instrumentedModel wraps a ModelClient with call duration and error metrics.
type instrumentedModel struct {
	inner warden.ModelClient
	m     *Metrics
}

// InstrumentModel returns a ModelClient that records duration and error
// metrics for every upstream call. A nil Metrics returns the client unchanged.
func InstrumentModel(inner warden.ModelClient, m *Metrics) warden.ModelClient {
	if m == nil {
		return inner
	}
	return &instrumentedModel{inner: inner, m: m}
}

func (c *instrumentedModel) Name() string { return c.inner.Name() }

func (c *instrumentedModel) Complete(ctx context.Context, req *warden.CompletionRequest) (*warden.CompletionResult, error) {
	start := time.Now()
	res, err := c.inner.Complete(ctx, req)
	c.m.ModelDuration.WithLabelValues(c.inner.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		c.m.ModelErrors.WithLabelValues(c.inner.Name()).Inc()
	}
	return res, err
}

func (c *instrumentedModel) HealthCheck(ctx context.Context) error {
	return c.inner.HealthCheck(ctx)
}
