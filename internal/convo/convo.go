// Package convo governs conversation length. Each thread accumulates token
// usage; at the configured ceiling the thread stops accepting messages and
// the only way forward is remediation: summarize the history in one model
// call, seed a fresh thread with the summary, and archive the old one.
//
// The lifecycle is an explicit state machine (active, limit_reached,
// archived) with transition functions, rather than ad hoc token comparisons
// scattered across call sites.
package convo

import (
	"context"
	"errors"
	"fmt"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// Store is the persistence surface for conversations and turns.
type Store interface {
	CreateConversation(ctx context.Context, c *warden.Conversation) error
	GetConversation(ctx context.Context, id string) (*warden.Conversation, error)
	ListConversations(ctx context.Context, owner string, offset, limit int) ([]*warden.Conversation, error)
	// TransitionConversation moves a conversation from one state to another
	// as a single conditional update; warden.ErrConflict when the stored
	// state is not `from`.
	TransitionConversation(ctx context.Context, id string, from, to warden.ConversationState) error
	// AddConversationTokens atomically adds tokens to the thread's total
	// and returns the new total.
	AddConversationTokens(ctx context.Context, id string, tokens int64) (int64, error)
	AppendTurn(ctx context.Context, t *warden.Turn) error
	ListTurns(ctx context.Context, conversationID string, offset, limit int) ([]*warden.Turn, error)
}

// CanTransition reports whether the state machine permits from -> to.
// Archived is terminal; limit_reached can only be left by archival
// (remediation creates a new conversation rather than reviving this one).
func CanTransition(from, to warden.ConversationState) bool {
	switch from {
	case warden.ConvActive:
		return to == warden.ConvLimitReached || to == warden.ConvArchived
	case warden.ConvLimitReached:
		return to == warden.ConvArchived
	default:
		return false
	}
}

// Governor enforces the per-conversation token ceiling.
type Governor struct {
	store   Store
	ceiling int64
}

// NewGovernor creates a Governor with the given token ceiling (0 disables).
func NewGovernor(store Store, ceiling int64) *Governor {
	return &Governor{store: store, ceiling: ceiling}
}

// Ceiling returns the configured token ceiling.
func (g *Governor) Ceiling() int64 { return g.ceiling }

// CanAccept reports whether the conversation may receive another message.
// Crossing the ceiling flips the thread to limit_reached as a side effect
// so later reads see the explicit state rather than re-deriving it.
func (g *Governor) CanAccept(ctx context.Context, c *warden.Conversation) error {
	switch c.State {
	case warden.ConvArchived:
		return fmt.Errorf("conversation %s is archived: %w", c.ID, warden.ErrConflict)
	case warden.ConvLimitReached:
		return &warden.CeilingError{ConversationID: c.ID, TotalTokens: c.TotalTokens, Ceiling: g.ceiling}
	}
	if g.ceiling > 0 && c.TotalTokens >= g.ceiling {
		if err := g.store.TransitionConversation(ctx, c.ID, warden.ConvActive, warden.ConvLimitReached); err != nil {
			// Lost the race to a concurrent request; the thread is already
			// limit_reached or archived, which is still a rejection.
			if !errors.Is(err, warden.ErrConflict) {
				return fmt.Errorf("mark conversation limit: %w: %w", warden.ErrStoreUnavailable, err)
			}
		}
		c.State = warden.ConvLimitReached
		return &warden.CeilingError{ConversationID: c.ID, TotalTokens: c.TotalTokens, Ceiling: g.ceiling}
	}
	return nil
}

// RecordUsage adds a completed call's tokens to the thread total. The total
// is monotonically non-decreasing; the ceiling is enforced on the next
// CanAccept rather than here, so a call already in flight completes.
func (g *Governor) RecordUsage(ctx context.Context, conversationID string, tokens int) (int64, error) {
	total, err := g.store.AddConversationTokens(ctx, conversationID, int64(tokens))
	if err != nil {
		return 0, fmt.Errorf("conversation token commit: %w: %w", warden.ErrStoreUnavailable, err)
	}
	return total, nil
}

// NewConversation returns an initialized active conversation for the owner.
func NewConversation(id, owner, summaryContext string, now time.Time) *warden.Conversation {
	return &warden.Conversation{
		ID:             id,
		OwnerID:        owner,
		State:          warden.ConvActive,
		SummaryContext: summaryContext,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
