package sqlite

import (
	"context"
	"time"

	"github.com/wardenlabs/warden/internal/counter"
)

// Incr implements counter.Store with a single upsert-increment statement.
// The window boundary is baked into the key, so a new window always starts
// a fresh row; expired rows are removed by SweepCounters.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := time.Now()
	fullKey, start := counter.WindowKey(key, window, now)
	expiresAt := start.Add(window)

	var count int64
	err := s.write.QueryRowContext(ctx,
		`INSERT INTO counters (key, count, expires_at) VALUES (?, 1, ?)
		 ON CONFLICT(key) DO UPDATE SET count = count + 1
		 RETURNING count`,
		fullKey, expiresAt.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, 0, err
	}
	return count, expiresAt.Sub(now), nil
}

// SweepCounters deletes counters whose window has expired. The application
// never deletes live counters; expiry is the only destruction path.
func (s *Store) SweepCounters(ctx context.Context) (int, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM counters WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
