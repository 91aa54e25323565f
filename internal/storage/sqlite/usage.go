package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// GetDailyTokenUsage returns the (subject, day) usage row.
func (s *Store) GetDailyTokenUsage(ctx context.Context, subject, day string) (*warden.DailyTokenUsage, error) {
	var u warden.DailyTokenUsage
	err := s.read.QueryRowContext(ctx,
		`SELECT subject, day, tokens_used, request_count
		 FROM daily_token_usage WHERE subject = ? AND day = ?`, subject, day,
	).Scan(&u.Subject, &u.Day, &u.TokensUsed, &u.RequestCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, warden.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AddDailyTokenUsage upsert-increments the (subject, day) row. Concurrent
// commits from the same subject serialize at the store.
func (s *Store) AddDailyTokenUsage(ctx context.Context, subject, day string, tokens int64) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO daily_token_usage (subject, day, tokens_used, request_count)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT(subject, day) DO UPDATE SET
		   tokens_used   = tokens_used + excluded.tokens_used,
		   request_count = request_count + 1`,
		subject, day, tokens)
	return err
}

// InsertRequestLogs batch-inserts request log records.
// Single multi-row INSERT avoids N round-trips for large batches.
func (s *Store) InsertRequestLogs(ctx context.Context, logs []warden.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 12
	placeholders := make([]string, len(logs))
	args := make([]any, 0, len(logs)*cols)

	for i, l := range logs {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			l.ID, l.RequestID, l.Subject, l.Addr, string(l.Tier), l.ConversationID,
			l.PromptTokens, l.CompletionTokens, l.CostCents, l.LatencyMs,
			l.Outcome, l.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO request_logs
		(id, request_id, subject, addr, tier, conversation_id,
		 prompt_tokens, completion_tokens, cost_cents, latency_ms, outcome, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// ListRequestLogs returns log records, most recent first, optionally
// filtered by subject.
func (s *Store) ListRequestLogs(ctx context.Context, subject string, offset, limit int) ([]warden.RequestLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, request_id, subject, addr, tier, conversation_id,
		prompt_tokens, completion_tokens, cost_cents, latency_ms, outcome, created_at
		FROM request_logs`
	var args []any
	if subject != "" {
		query += ` WHERE subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []warden.RequestLog
	for rows.Next() {
		var (
			l         warden.RequestLog
			tier      string
			createdAt string
		)
		if err := rows.Scan(&l.ID, &l.RequestID, &l.Subject, &l.Addr, &tier, &l.ConversationID,
			&l.PromptTokens, &l.CompletionTokens, &l.CostCents, &l.LatencyMs,
			&l.Outcome, &createdAt); err != nil {
			return nil, err
		}
		l.Tier = warden.Tier(tier)
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			l.CreatedAt = t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
