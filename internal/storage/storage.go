// Package storage defines persistence interfaces for the warden service.
package storage

import (
	"context"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// SessionStore manages authenticated session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, s *warden.Session) error
	GetSessionByTokenHash(ctx context.Context, hash string) (*warden.Session, error)
	RevokeSession(ctx context.Context, id string) error
}

// ConversationStore manages conversation and turn persistence.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *warden.Conversation) error
	GetConversation(ctx context.Context, id string) (*warden.Conversation, error)
	ListConversations(ctx context.Context, owner string, offset, limit int) ([]*warden.Conversation, error)
	TransitionConversation(ctx context.Context, id string, from, to warden.ConversationState) error
	AddConversationTokens(ctx context.Context, id string, tokens int64) (int64, error)
	AppendTurn(ctx context.Context, t *warden.Turn) error
	ListTurns(ctx context.Context, conversationID string, offset, limit int) ([]*warden.Turn, error)
}

// UsageStore manages per-subject daily token usage.
type UsageStore interface {
	GetDailyTokenUsage(ctx context.Context, subject, day string) (*warden.DailyTokenUsage, error)
	AddDailyTokenUsage(ctx context.Context, subject, day string, tokens int64) error
}

// LedgerStore manages the global daily spend ledger. All mutations are
// atomic upsert-increments at the store level; no caller may
// read-compare-write.
type LedgerStore interface {
	ReserveSpend(ctx context.Context, day string, cents, capCents int64) (total int64, ok bool, err error)
	CommitSpend(ctx context.Context, day string, cents, tokens int64, subject string) (total int64, err error)
	MarkAlerted(ctx context.Context, day string, pct int) (fired bool, err error)
	GetLedger(ctx context.Context, day string) (*warden.LedgerEntry, error)
}

// CounterStore is the durable atomic counter store behind the rate limiter.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, expiresIn time.Duration, err error)
	// SweepCounters deletes expired counter rows and reports the count.
	SweepCounters(ctx context.Context) (int, error)
}

// RequestLogStore manages the append-only request audit log.
type RequestLogStore interface {
	InsertRequestLogs(ctx context.Context, logs []warden.RequestLog) error
	ListRequestLogs(ctx context.Context, subject string, offset, limit int) ([]warden.RequestLog, error)
}

// Store combines all storage interfaces.
type Store interface {
	SessionStore
	ConversationStore
	UsageStore
	LedgerStore
	CounterStore
	RequestLogStore
	Close() error
}
