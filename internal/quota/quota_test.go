package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	warden "github.com/wardenlabs/warden/internal"
)

// memStore is an in-memory UsageStore double.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*warden.DailyTokenUsage
	err  error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*warden.DailyTokenUsage)}
}

func (s *memStore) GetDailyTokenUsage(_ context.Context, subject, day string) (*warden.DailyTokenUsage, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[subject+"/"+day]
	if !ok {
		return nil, warden.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memStore) AddDailyTokenUsage(_ context.Context, subject, day string, tokens int64) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subject + "/" + day
	row, ok := s.rows[key]
	if !ok {
		row = &warden.DailyTokenUsage{Subject: subject, Day: day}
		s.rows[key] = row
	}
	row.TokensUsed += tokens
	row.RequestCount++
	return nil
}

func standardIdentity(limit int64) *warden.Identity {
	return &warden.Identity{
		Addr:    "203.0.113.1",
		Subject: "sub-1",
		Tier:    warden.TierStandard,
		Limits:  warden.TierLimits{DailyTokenLimit: limit},
	}
}

func TestReserve_WithinLimit(t *testing.T) {
	t.Parallel()
	e := New(newMemStore())
	if err := e.Reserve(context.Background(), standardIdentity(100_000), 5_000); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
}

func TestReserve_DenyReportsUsedAndLimit(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	e := New(store)
	ctx := context.Background()
	id := standardIdentity(100_000)

	if err := e.Commit(ctx, id.Subject, 96_000); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	err := e.Reserve(ctx, id, 5_000)
	var qe *warden.QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QuotaError, got %v", err)
	}
	if qe.Used != 96_000 || qe.Limit != 100_000 {
		t.Errorf("denial = used %d limit %d, want 96000/100000", qe.Used, qe.Limit)
	}
	if !errors.Is(err, warden.ErrQuotaExceeded) {
		t.Error("denial should match ErrQuotaExceeded")
	}
}

func TestReserve_ExactFitAllowed(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	e := New(store)
	ctx := context.Background()
	id := standardIdentity(100_000)

	e.Commit(ctx, id.Subject, 95_000)
	if err := e.Reserve(ctx, id, 5_000); err != nil {
		t.Errorf("reserve exactly to limit should pass: %v", err)
	}
}

func TestReserve_AnonymousExempt(t *testing.T) {
	t.Parallel()
	e := New(newMemStore())
	id := &warden.Identity{Addr: "203.0.113.2", Limits: warden.TierLimits{DailyTokenLimit: 1}}
	if err := e.Reserve(context.Background(), id, 1_000_000); err != nil {
		t.Errorf("anonymous identity should be exempt: %v", err)
	}
}

func TestReserve_StoreErrorFailsClosed(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.err = errors.New("db locked")
	e := New(store)

	err := e.Reserve(context.Background(), standardIdentity(100_000), 1)
	if err == nil {
		t.Fatal("store failure must deny")
	}
	if !errors.Is(err, warden.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCommit_AccumulatesMonotonically(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	e := New(store)
	ctx := context.Background()

	for _, n := range []int{100, 250, 50} {
		if err := e.Commit(ctx, "sub-1", n); err != nil {
			t.Fatalf("Commit(%d): %v", n, err)
		}
	}

	u, err := e.Usage(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.TokensUsed != 400 || u.RequestCount != 3 {
		t.Errorf("usage = %d tokens / %d requests, want 400/3", u.TokensUsed, u.RequestCount)
	}
}

func TestUsage_ZeroValuedWhenAbsent(t *testing.T) {
	t.Parallel()
	e := New(newMemStore())
	u, err := e.Usage(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.TokensUsed != 0 {
		t.Errorf("TokensUsed = %d, want 0", u.TokensUsed)
	}
}
