// Package cost provides pre-flight cost and token estimation for the
// governance layer. Input tokens use a character-based heuristic (~4 chars
// per token for English), output tokens assume the tier's ceiling is fully
// used. Estimates gate requests; only the model's actual usage report is
// ever persisted as ground truth.
package cost

import (
	warden "github.com/wardenlabs/warden/internal"
)

// charsPerToken is the average characters-per-token constant for the
// input-side approximation.
const charsPerToken = 4

// promptOverheadTokens covers role markers and the assistant priming tokens
// the raw message length does not account for.
const promptOverheadTokens = 7

// Pricing holds per-token unit prices in cents per million tokens.
// Integer minor units end to end so ledger arithmetic never rounds.
type Pricing struct {
	InputCentsPerMillion  int64 `yaml:"input_cents_per_million"`
	OutputCentsPerMillion int64 `yaml:"output_cents_per_million"`
}

// Estimator converts message sizes and usage reports into token counts and
// monetary cost. It is a pure function holder: the same Estimator must be
// used by both the quota and budget paths so pre-flight checks and commits
// are computed on a consistent basis.
type Estimator struct {
	pricing Pricing
}

// New creates an Estimator with the given pricing.
func New(p Pricing) *Estimator {
	return &Estimator{pricing: p}
}

// InputTokens estimates prompt tokens for a message of the given byte length.
func (e *Estimator) InputTokens(messageLen int) int {
	if messageLen <= 0 {
		return promptOverheadTokens
	}
	return (messageLen+charsPerToken-1)/charsPerToken + promptOverheadTokens
}

// RequestTokens estimates the total tokens a request may consume: the input
// approximation plus the tier's full output ceiling. Used by the quota
// enforcer's pre-flight reservation.
func (e *Estimator) RequestTokens(messageLen, maxOutputTokens int) int64 {
	return int64(e.InputTokens(messageLen)) + int64(maxOutputTokens)
}

// EstimateCents returns the worst-case cost of a request in minor units.
// Used by the budget ledger's speculative reservation.
func (e *Estimator) EstimateCents(messageLen, maxOutputTokens int) int64 {
	in := ceilDiv(int64(e.InputTokens(messageLen))*e.pricing.InputCentsPerMillion, 1_000_000)
	out := ceilDiv(int64(maxOutputTokens)*e.pricing.OutputCentsPerMillion, 1_000_000)
	return in + out
}

// ActualCents prices a model call's reported usage in minor units.
func (e *Estimator) ActualCents(u warden.Usage) int64 {
	in := ceilDiv(u.InputTokens*e.pricing.InputCentsPerMillion, 1_000_000)
	out := ceilDiv(u.OutputTokens*e.pricing.OutputCentsPerMillion, 1_000_000)
	return in + out
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
