// Package testutil provides configurable test fakes for warden interfaces.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/counter"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Error injection is per-area: set an Err* field to force failures.
type FakeStore struct {
	mu            sync.RWMutex
	sessions      map[string]*warden.Session // token hash -> session
	conversations map[string]*warden.Conversation
	turns         map[string][]*warden.Turn // conversation ID -> turns
	ledger        map[string]*warden.LedgerEntry
	ledgerSubs    map[string]map[string]struct{} // day -> subjects
	usage         map[string]*warden.DailyTokenUsage
	counters      map[string]*fakeCounter
	logs          []warden.RequestLog

	ErrSessions      error
	ErrConversations error
	ErrUsage         error
	ErrLedger        error
	ErrCounters      error
	ErrLogs          error
}

type fakeCounter struct {
	count     int64
	expiresAt time.Time
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		sessions:      make(map[string]*warden.Session),
		conversations: make(map[string]*warden.Conversation),
		turns:         make(map[string][]*warden.Turn),
		ledger:        make(map[string]*warden.LedgerEntry),
		ledgerSubs:    make(map[string]map[string]struct{}),
		usage:         make(map[string]*warden.DailyTokenUsage),
		counters:      make(map[string]*fakeCounter),
	}
}

// --- SessionStore ---

func (s *FakeStore) CreateSession(_ context.Context, sess *warden.Session) error {
	if s.ErrSessions != nil {
		return s.ErrSessions
	}
	s.mu.Lock()
	s.sessions[sess.TokenHash] = sess
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) GetSessionByTokenHash(_ context.Context, hash string) (*warden.Session, error) {
	if s.ErrSessions != nil {
		return nil, s.ErrSessions
	}
	s.mu.RLock()
	sess, ok := s.sessions[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, warden.ErrNotFound
	}
	return sess, nil
}

func (s *FakeStore) RevokeSession(_ context.Context, id string) error {
	if s.ErrSessions != nil {
		return s.ErrSessions
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			sess.Revoked = true
			return nil
		}
	}
	return warden.ErrNotFound
}

// --- ConversationStore ---

func (s *FakeStore) CreateConversation(_ context.Context, c *warden.Conversation) error {
	if s.ErrConversations != nil {
		return s.ErrConversations
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[c.ID]; exists {
		return warden.ErrConflict
	}
	cp := *c
	s.conversations[c.ID] = &cp
	return nil
}

func (s *FakeStore) GetConversation(_ context.Context, id string) (*warden.Conversation, error) {
	if s.ErrConversations != nil {
		return nil, s.ErrConversations
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, warden.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *FakeStore) ListConversations(_ context.Context, owner string, offset, limit int) ([]*warden.Conversation, error) {
	if s.ErrConversations != nil {
		return nil, s.ErrConversations
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*warden.Conversation
	for _, c := range s.conversations {
		if owner == "" || c.OwnerID == owner {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *FakeStore) TransitionConversation(_ context.Context, id string, from, to warden.ConversationState) error {
	if s.ErrConversations != nil {
		return s.ErrConversations
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return warden.ErrNotFound
	}
	if c.State != from {
		return warden.ErrConflict
	}
	c.State = to
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *FakeStore) AddConversationTokens(_ context.Context, id string, tokens int64) (int64, error) {
	if s.ErrConversations != nil {
		return 0, s.ErrConversations
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return 0, warden.ErrNotFound
	}
	if c.State == warden.ConvArchived {
		return 0, warden.ErrConflict
	}
	c.TotalTokens += tokens
	return c.TotalTokens, nil
}

func (s *FakeStore) AppendTurn(_ context.Context, t *warden.Turn) error {
	if s.ErrConversations != nil {
		return s.ErrConversations
	}
	s.mu.Lock()
	tp := *t
	s.turns[t.ConversationID] = append(s.turns[t.ConversationID], &tp)
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) ListTurns(_ context.Context, conversationID string, offset, limit int) ([]*warden.Turn, error) {
	if s.ErrConversations != nil {
		return nil, s.ErrConversations
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.turns[conversationID]
	if offset >= len(turns) {
		return nil, nil
	}
	out := make([]*warden.Turn, 0, len(turns)-offset)
	for _, t := range turns[offset:] {
		tp := *t
		out = append(out, &tp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- UsageStore ---

func (s *FakeStore) GetDailyTokenUsage(_ context.Context, subject, day string) (*warden.DailyTokenUsage, error) {
	if s.ErrUsage != nil {
		return nil, s.ErrUsage
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usage[subject+"|"+day]
	if !ok {
		return nil, warden.ErrNotFound
	}
	up := *u
	return &up, nil
}

func (s *FakeStore) AddDailyTokenUsage(_ context.Context, subject, day string, tokens int64) error {
	if s.ErrUsage != nil {
		return s.ErrUsage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subject + "|" + day
	u, ok := s.usage[key]
	if !ok {
		u = &warden.DailyTokenUsage{Subject: subject, Day: day}
		s.usage[key] = u
	}
	u.TokensUsed += tokens
	u.RequestCount++
	return nil
}

// --- LedgerStore ---

func (s *FakeStore) ReserveSpend(_ context.Context, day string, cents, capCents int64) (int64, bool, error) {
	if s.ErrLedger != nil {
		return 0, false, s.ErrLedger
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ledgerEntry(day)
	if e.SpendCents+cents > capCents {
		return e.SpendCents, false, nil
	}
	e.SpendCents += cents
	return e.SpendCents, true, nil
}

func (s *FakeStore) CommitSpend(_ context.Context, day string, cents, tokens int64, subject string) (int64, error) {
	if s.ErrLedger != nil {
		return 0, s.ErrLedger
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ledgerEntry(day)
	e.SpendCents += cents
	e.TokenCount += tokens
	e.RequestCount++
	if subject != "" {
		subs, ok := s.ledgerSubs[day]
		if !ok {
			subs = make(map[string]struct{})
			s.ledgerSubs[day] = subs
		}
		subs[subject] = struct{}{}
		e.SubjectCount = int64(len(subs))
	}
	return e.SpendCents, nil
}

func (s *FakeStore) MarkAlerted(_ context.Context, day string, pct int) (bool, error) {
	if s.ErrLedger != nil {
		return false, s.ErrLedger
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.ledgerEntry(day)
	if e.AlertedPct >= pct {
		return false, nil
	}
	e.AlertedPct = pct
	return true, nil
}

func (s *FakeStore) GetLedger(_ context.Context, day string) (*warden.LedgerEntry, error) {
	if s.ErrLedger != nil {
		return nil, s.ErrLedger
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ledger[day]
	if !ok {
		return nil, warden.ErrNotFound
	}
	ep := *e
	return &ep, nil
}

func (s *FakeStore) ledgerEntry(day string) *warden.LedgerEntry {
	e, ok := s.ledger[day]
	if !ok {
		e = &warden.LedgerEntry{Day: day}
		s.ledger[day] = e
	}
	return e
}

// --- CounterStore ---

func (s *FakeStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s.ErrCounters != nil {
		return 0, 0, s.ErrCounters
	}
	now := time.Now()
	fullKey, start := counter.WindowKey(key, window, now)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[fullKey]
	if !ok {
		c = &fakeCounter{expiresAt: start.Add(window)}
		s.counters[fullKey] = c
	}
	c.count++
	return c.count, c.expiresAt.Sub(now), nil
}

func (s *FakeStore) SweepCounters(context.Context) (int, error) {
	if s.ErrCounters != nil {
		return 0, s.ErrCounters
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for k, c := range s.counters {
		if !c.expiresAt.After(now) {
			delete(s.counters, k)
			n++
		}
	}
	return n, nil
}

// --- RequestLogStore ---

func (s *FakeStore) InsertRequestLogs(_ context.Context, logs []warden.RequestLog) error {
	if s.ErrLogs != nil {
		return s.ErrLogs
	}
	s.mu.Lock()
	s.logs = append(s.logs, logs...)
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) ListRequestLogs(_ context.Context, subject string, offset, limit int) ([]warden.RequestLog, error) {
	if s.ErrLogs != nil {
		return nil, s.ErrLogs
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []warden.RequestLog
	for _, l := range s.logs {
		if subject == "" || l.Subject == subject {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RequestLogCount reports the number of inserted log rows.
func (s *FakeStore) RequestLogCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
