package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// CreateConversation inserts a conversation row.
func (s *Store) CreateConversation(ctx context.Context, c *warden.Conversation) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, state, total_tokens, summary_context, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.State.String(), c.TotalTokens, c.SummaryContext,
		c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*warden.Conversation, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, owner_id, state, total_tokens, summary_context, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, warden.ErrNotFound
	}
	return c, err
}

// ListConversations returns a subject's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, owner string, offset, limit int) ([]*warden.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, owner_id, state, total_tokens, summary_context, created_at, updated_at
		 FROM conversations WHERE owner_id = ?
		 ORDER BY updated_at DESC LIMIT ? OFFSET ?`, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*warden.Conversation
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TransitionConversation performs a conditional state transition in a single
// UPDATE, so two concurrent transitions cannot both succeed.
func (s *Store) TransitionConversation(ctx context.Context, id string, from, to warden.ConversationState) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE conversations SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		to.String(), time.Now().UTC().Format(time.RFC3339), id, from.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the row is gone or it is no longer in `from`.
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		return warden.ErrConflict
	}
	return nil
}

// AddConversationTokens atomically adds tokens to a thread's running total.
// Archived conversations are frozen and reject the update.
func (s *Store) AddConversationTokens(ctx context.Context, id string, tokens int64) (int64, error) {
	var total int64
	err := s.write.QueryRowContext(ctx,
		`UPDATE conversations SET total_tokens = total_tokens + ?, updated_at = ?
		 WHERE id = ? AND state != 'archived'
		 RETURNING total_tokens`,
		tokens, time.Now().UTC().Format(time.RFC3339), id,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetConversation(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, warden.ErrConflict
	}
	return total, err
}

// AppendTurn inserts a completed exchange.
func (s *Store) AppendTurn(ctx context.Context, t *warden.Turn) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO turns (id, conversation_id, user_text, assistant_text,
		                    prompt_tokens, completion_tokens, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.UserText, t.AssistantText,
		t.PromptTokens, t.CompletionTokens, t.RequestID,
		t.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListTurns returns a conversation's turns in chronological order.
func (s *Store) ListTurns(ctx context.Context, conversationID string, offset, limit int) ([]*warden.Turn, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, conversation_id, user_text, assistant_text,
		        prompt_tokens, completion_tokens, request_id, created_at
		 FROM turns WHERE conversation_id = ?
		 ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*warden.Turn
	for rows.Next() {
		var (
			t         warden.Turn
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserText, &t.AssistantText,
			&t.PromptTokens, &t.CompletionTokens, &t.RequestID, &createdAt); err != nil {
			return nil, err
		}
		if ts, e := time.Parse(time.RFC3339, createdAt); e == nil {
			t.CreatedAt = ts
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func scanConversation(scan func(...any) error) (*warden.Conversation, error) {
	var (
		c                    warden.Conversation
		state                string
		createdAt, updatedAt string
	)
	if err := scan(&c.ID, &c.OwnerID, &state, &c.TotalTokens, &c.SummaryContext, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.State = warden.ParseConversationState(state)
	if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
		c.CreatedAt = t
	}
	if t, e := time.Parse(time.RFC3339, updatedAt); e == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}
