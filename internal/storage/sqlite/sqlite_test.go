package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	sess := &warden.Session{
		ID:        "sess-1",
		TokenHash: "abc123hash",
		Subject:   "sub-1",
		Tier:      warden.TierStandard,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetSessionByTokenHash(ctx, "abc123hash")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Subject != "sub-1" || got.Tier != warden.TierStandard || got.Revoked {
		t.Errorf("session = %+v", got)
	}

	if err := s.RevokeSession(ctx, "sess-1"); err != nil {
		t.Fatal("revoke:", err)
	}
	got, err = s.GetSessionByTokenHash(ctx, "abc123hash")
	if err != nil {
		t.Fatal("get after revoke:", err)
	}
	if !got.Revoked {
		t.Error("session should be revoked")
	}

	if _, err := s.GetSessionByTokenHash(ctx, "missing"); !errors.Is(err, warden.ErrNotFound) {
		t.Errorf("missing session err = %v, want ErrNotFound", err)
	}
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	c := &warden.Conversation{ID: "c1", OwnerID: "sub-1", State: warden.ConvActive, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatal("create:", err)
	}

	total, err := s.AddConversationTokens(ctx, "c1", 1_500)
	if err != nil {
		t.Fatal("add tokens:", err)
	}
	if total != 1_500 {
		t.Errorf("total = %d, want 1500", total)
	}
	if total, _ = s.AddConversationTokens(ctx, "c1", 500); total != 2_000 {
		t.Errorf("total = %d, want 2000", total)
	}

	if err := s.TransitionConversation(ctx, "c1", warden.ConvActive, warden.ConvLimitReached); err != nil {
		t.Fatal("transition:", err)
	}
	// Repeating the same transition loses the conditional update.
	if err := s.TransitionConversation(ctx, "c1", warden.ConvActive, warden.ConvLimitReached); !errors.Is(err, warden.ErrConflict) {
		t.Errorf("second transition err = %v, want ErrConflict", err)
	}

	if err := s.TransitionConversation(ctx, "c1", warden.ConvLimitReached, warden.ConvArchived); err != nil {
		t.Fatal("archive:", err)
	}
	// Archived totals are frozen.
	if _, err := s.AddConversationTokens(ctx, "c1", 1); !errors.Is(err, warden.ErrConflict) {
		t.Errorf("add to archived err = %v, want ErrConflict", err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.State != warden.ConvArchived || got.TotalTokens != 2_000 {
		t.Errorf("conversation = %+v", got)
	}
}

func TestTurnsRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	c := &warden.Conversation{ID: "c1", OwnerID: "sub-1", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatal("create conversation:", err)
	}

	for i, txt := range []string{"first", "second"} {
		turn := &warden.Turn{
			ID:               "t" + string(rune('1'+i)),
			ConversationID:   "c1",
			UserText:         txt,
			AssistantText:    "re: " + txt,
			PromptTokens:     10,
			CompletionTokens: 20,
			CreatedAt:        now.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatal("append:", err)
		}
	}

	turns, err := s.ListTurns(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(turns) != 2 || turns[0].UserText != "first" || turns[1].UserText != "second" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestLedgerReserveAndCommit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	const day = "2025-06-01"

	total, ok, err := s.ReserveSpend(ctx, day, 300, 1_000)
	if err != nil || !ok || total != 300 {
		t.Fatalf("reserve 1 = (%d, %v, %v), want (300, true, nil)", total, ok, err)
	}
	total, ok, err = s.ReserveSpend(ctx, day, 700, 1_000)
	if err != nil || !ok || total != 1_000 {
		t.Fatalf("reserve 2 = (%d, %v, %v), want (1000, true, nil)", total, ok, err)
	}
	// Over cap: declined, total unchanged.
	total, ok, err = s.ReserveSpend(ctx, day, 1, 1_000)
	if err != nil || ok || total != 1_000 {
		t.Fatalf("reserve 3 = (%d, %v, %v), want (1000, false, nil)", total, ok, err)
	}

	if _, err := s.CommitSpend(ctx, day, 50, 2_000, "alice"); err != nil {
		t.Fatal("commit:", err)
	}
	if _, err := s.CommitSpend(ctx, day, 25, 1_000, "alice"); err != nil {
		t.Fatal("commit:", err)
	}
	if _, err := s.CommitSpend(ctx, day, 25, 1_000, "bob"); err != nil {
		t.Fatal("commit:", err)
	}

	entry, err := s.GetLedger(ctx, day)
	if err != nil {
		t.Fatal("get ledger:", err)
	}
	if entry.SpendCents != 1_100 {
		t.Errorf("spend = %d, want 1100", entry.SpendCents)
	}
	if entry.RequestCount != 3 || entry.TokenCount != 4_000 || entry.SubjectCount != 2 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestMarkAlertedFiresOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	const day = "2025-06-02"

	s.CommitSpend(ctx, day, 500, 0, "")

	fired, err := s.MarkAlerted(ctx, day, 50)
	if err != nil || !fired {
		t.Fatalf("first mark = (%v, %v), want (true, nil)", fired, err)
	}
	fired, err = s.MarkAlerted(ctx, day, 50)
	if err != nil || fired {
		t.Fatalf("second mark = (%v, %v), want (false, nil)", fired, err)
	}
	// A higher threshold still fires.
	fired, _ = s.MarkAlerted(ctx, day, 90)
	if !fired {
		t.Error("raising to 90 should fire")
	}
}

func TestDailyTokenUsageUpsert(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetDailyTokenUsage(ctx, "sub-1", "2025-06-01"); !errors.Is(err, warden.ErrNotFound) {
		t.Fatalf("missing row err = %v, want ErrNotFound", err)
	}

	s.AddDailyTokenUsage(ctx, "sub-1", "2025-06-01", 1_000)
	s.AddDailyTokenUsage(ctx, "sub-1", "2025-06-01", 2_500)

	u, err := s.GetDailyTokenUsage(ctx, "sub-1", "2025-06-01")
	if err != nil {
		t.Fatal("get:", err)
	}
	if u.TokensUsed != 3_500 || u.RequestCount != 2 {
		t.Errorf("usage = %+v", u)
	}
}

func TestCounterIncrAndSweep(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, ttl, err := s.Incr(ctx, "rl:address:192.0.2.1:minute", time.Minute)
		if err != nil {
			t.Fatal("incr:", err)
		}
		if n != want {
			t.Errorf("count = %d, want %d", n, want)
		}
		if ttl <= 0 || ttl > time.Minute {
			t.Errorf("ttl = %s", ttl)
		}
	}

	// Nothing has expired yet.
	deleted, err := s.SweepCounters(ctx)
	if err != nil {
		t.Fatal("sweep:", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}

	// Force-expire and sweep.
	if _, err := s.write.Exec(`UPDATE counters SET expires_at = 0`); err != nil {
		t.Fatal(err)
	}
	deleted, _ = s.SweepCounters(ctx)
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestRequestLogsRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	logs := []warden.RequestLog{
		{ID: "l1", RequestID: "r1", Subject: "alice", Addr: "192.0.2.1", Tier: warden.TierStandard, Outcome: "ok", CreatedAt: now},
		{ID: "l2", RequestID: "r2", Subject: "bob", Addr: "192.0.2.2", Tier: warden.TierAnonymous, Outcome: "rate_limited", CreatedAt: now.Add(time.Second)},
	}
	if err := s.InsertRequestLogs(ctx, logs); err != nil {
		t.Fatal("insert:", err)
	}

	all, err := s.ListRequestLogs(ctx, "", 0, 10)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(all) != 2 || all[0].ID != "l2" {
		t.Errorf("list = %+v", all)
	}

	mine, err := s.ListRequestLogs(ctx, "alice", 0, 10)
	if err != nil {
		t.Fatal("list by subject:", err)
	}
	if len(mine) != 1 || mine[0].Outcome != "ok" {
		t.Errorf("alice logs = %+v", mine)
	}
}
