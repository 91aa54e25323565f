package cost

import (
	"testing"

	warden "github.com/wardenlabs/warden/internal"
)

// pricing used across tests: $5.00/M input, $15.00/M output.
var testPricing = Pricing{InputCentsPerMillion: 500, OutputCentsPerMillion: 1500}

func TestInputTokens(t *testing.T) {
	t.Parallel()
	e := New(testPricing)

	tests := []struct {
		name string
		len  int
		want int
	}{
		{"empty", 0, promptOverheadTokens},
		{"one char rounds up", 1, 1 + promptOverheadTokens},
		{"exact multiple", 400, 100 + promptOverheadTokens},
		{"remainder rounds up", 401, 101 + promptOverheadTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.InputTokens(tt.len); got != tt.want {
				t.Errorf("InputTokens(%d) = %d, want %d", tt.len, got, tt.want)
			}
		})
	}
}

func TestRequestTokens_IncludesOutputCeiling(t *testing.T) {
	t.Parallel()
	e := New(testPricing)

	got := e.RequestTokens(4000, 1024)
	want := int64(1000+promptOverheadTokens) + 1024
	if got != want {
		t.Errorf("RequestTokens = %d, want %d", got, want)
	}
}

func TestEstimateCents_RoundsUpPerSide(t *testing.T) {
	t.Parallel()
	e := New(testPricing)

	// 1 input token and 1 output token both cost a fraction of a cent;
	// each side must round up to a full minor unit independently.
	got := e.EstimateCents(1, 1)
	if got != 2 {
		t.Errorf("EstimateCents(1, 1) = %d, want 2", got)
	}
}

func TestActualCents(t *testing.T) {
	t.Parallel()
	e := New(testPricing)

	// 1M input = 500 cents, 100k output = 150 cents.
	got := e.ActualCents(warden.Usage{InputTokens: 1_000_000, OutputTokens: 100_000})
	if got != 650 {
		t.Errorf("ActualCents = %d, want 650", got)
	}

	if got := e.ActualCents(warden.Usage{}); got != 0 {
		t.Errorf("ActualCents(zero) = %d, want 0", got)
	}
}

func TestEstimateAndActualShareBasis(t *testing.T) {
	t.Parallel()
	e := New(testPricing)

	// A call that uses exactly its estimate must never cost more than the
	// pre-flight reservation.
	msgLen, ceiling := 2000, 512
	est := e.EstimateCents(msgLen, ceiling)
	actual := e.ActualCents(warden.Usage{
		InputTokens:  int64(e.InputTokens(msgLen)),
		OutputTokens: int64(ceiling),
	})
	if actual > est {
		t.Errorf("actual %d exceeds estimate %d for identical usage", actual, est)
	}
}
