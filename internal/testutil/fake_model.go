package testutil

import (
	"context"

	warden "github.com/wardenlabs/warden/internal"
)

// FakeModel is a configurable warden.ModelClient for testing.
type FakeModel struct {
	ModelName  string
	CompleteFn func(ctx context.Context, req *warden.CompletionRequest) (*warden.CompletionResult, error)
	HealthFn   func(ctx context.Context) error
}

// Name returns the configured model name, defaulting to "fake".
func (f *FakeModel) Name() string {
	if f.ModelName != "" {
		return f.ModelName
	}
	return "fake"
}

// Complete delegates to CompleteFn or returns a default reply with usage
// proportional to the request.
func (f *FakeModel) Complete(ctx context.Context, req *warden.CompletionRequest) (*warden.CompletionResult, error) {
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, req)
	}
	var promptLen int64
	for _, m := range req.Messages {
		promptLen += int64(len(m.Content))
	}
	return &warden.CompletionResult{
		Text: "ok",
		Usage: warden.Usage{
			InputTokens:  promptLen/4 + 1,
			OutputTokens: 10,
		},
	}, nil
}

// HealthCheck delegates to HealthFn or returns nil.
func (f *FakeModel) HealthCheck(ctx context.Context) error {
	if f.HealthFn != nil {
		return f.HealthFn(ctx)
	}
	return nil
}
