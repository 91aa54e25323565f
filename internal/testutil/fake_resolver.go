package testutil

import (
	"context"
	"net/http"

	warden "github.com/wardenlabs/warden/internal"
)

// FakeResolver always resolves to the configured identity.
type FakeResolver struct {
	Identity *warden.Identity
}

// Resolve returns the configured identity, or a standard-tier default.
func (f *FakeResolver) Resolve(context.Context, *http.Request) (*warden.Identity, error) {
	if f.Identity != nil {
		return f.Identity, nil
	}
	return &warden.Identity{
		Addr:    "192.0.2.1",
		Subject: "test",
		Tier:    warden.TierStandard,
		Limits: warden.TierLimits{
			RequestsPerMinute: 100,
			RequestsPerHour:   1_000,
			RequestsPerDay:    10_000,
			DailyTokenLimit:   1_000_000,
			MaxOutputTokens:   1_024,
		},
	}, nil
}

// RejectResolver always rejects with ErrUnauthorized.
type RejectResolver struct{}

// Resolve always returns ErrUnauthorized.
func (RejectResolver) Resolve(context.Context, *http.Request) (*warden.Identity, error) {
	return nil, warden.ErrUnauthorized
}
