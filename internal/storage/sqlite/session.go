package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	warden "github.com/wardenlabs/warden/internal"
)

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess *warden.Session) error {
	var expires any
	if sess.ExpiresAt != nil {
		expires = sess.ExpiresAt.UTC().Format(time.RFC3339)
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO sessions (id, token_hash, subject, tier, revoked, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TokenHash, sess.Subject, string(sess.Tier),
		boolToInt(sess.Revoked), expires, sess.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetSessionByTokenHash looks up a session by its token hash.
func (s *Store) GetSessionByTokenHash(ctx context.Context, hash string) (*warden.Session, error) {
	var (
		sess      warden.Session
		tier      string
		revoked   int
		expires   sql.NullString
		createdAt string
	)
	err := s.read.QueryRowContext(ctx,
		`SELECT id, token_hash, subject, tier, revoked, expires_at, created_at
		 FROM sessions WHERE token_hash = ?`, hash,
	).Scan(&sess.ID, &sess.TokenHash, &sess.Subject, &tier, &revoked, &expires, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, warden.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Tier = warden.Tier(tier)
	sess.Revoked = revoked != 0
	if expires.Valid {
		if t, e := time.Parse(time.RFC3339, expires.String); e == nil {
			sess.ExpiresAt = &t
		}
	}
	if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
		sess.CreatedAt = t
	}
	return &sess, nil
}

// RevokeSession marks a session revoked. Revocation is permanent.
func (s *Store) RevokeSession(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, `UPDATE sessions SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return warden.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
