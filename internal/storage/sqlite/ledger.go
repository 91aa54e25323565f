package sqlite

import (
	"context"
	"database/sql"
	"errors"

	warden "github.com/wardenlabs/warden/internal"
)

// ReserveSpend adds cents to the day's spend iff the result stays at or
// under capCents. The conditional upsert-increment is a single statement on
// the single-writer connection, so two concurrent reservations can never
// both observe "under cap" and both apply.
func (s *Store) ReserveSpend(ctx context.Context, day string, cents, capCents int64) (int64, bool, error) {
	if cents > capCents {
		total, err := s.spendTotal(ctx, day)
		return total, false, err
	}

	var total int64
	err := s.write.QueryRowContext(ctx,
		`INSERT INTO budget_ledger (day, spend_cents) VALUES (?, ?)
		 ON CONFLICT(day) DO UPDATE SET spend_cents = spend_cents + excluded.spend_cents
		 WHERE spend_cents + excluded.spend_cents <= ?
		 RETURNING spend_cents`,
		day, cents, capCents,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		// Conditional update declined: over cap. Report the current total.
		total, err := s.spendTotal(ctx, day)
		return total, false, err
	}
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

// CommitSpend adds a completed call's actual cost, tokens and request count
// to the day's row, maintaining the unique-subject count.
func (s *Store) CommitSpend(ctx context.Context, day string, cents, tokens int64, subject string) (int64, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	if subject != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO ledger_subjects (day, subject) VALUES (?, ?)`,
			day, subject); err != nil {
			return 0, err
		}
	}

	var total int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO budget_ledger (day, spend_cents, request_count, token_count, subject_count)
		 VALUES (?, ?, 1, ?, (SELECT COUNT(*) FROM ledger_subjects WHERE day = ?))
		 ON CONFLICT(day) DO UPDATE SET
		   spend_cents   = spend_cents + excluded.spend_cents,
		   request_count = request_count + 1,
		   token_count   = token_count + excluded.token_count,
		   subject_count = (SELECT COUNT(*) FROM ledger_subjects WHERE day = budget_ledger.day)
		 RETURNING spend_cents`,
		day, cents, tokens, day,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, tx.Commit()
}

// MarkAlerted raises the day's alerted threshold; the conditional UPDATE
// makes the caller that moves it the only one that fires the alert.
func (s *Store) MarkAlerted(ctx context.Context, day string, pct int) (bool, error) {
	res, err := s.write.ExecContext(ctx,
		`UPDATE budget_ledger SET alerted_pct = ? WHERE day = ? AND alerted_pct < ?`,
		pct, day, pct)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetLedger returns the day's ledger row.
func (s *Store) GetLedger(ctx context.Context, day string) (*warden.LedgerEntry, error) {
	var e warden.LedgerEntry
	err := s.read.QueryRowContext(ctx,
		`SELECT day, spend_cents, request_count, token_count, subject_count, alerted_pct
		 FROM budget_ledger WHERE day = ?`, day,
	).Scan(&e.Day, &e.SpendCents, &e.RequestCount, &e.TokenCount, &e.SubjectCount, &e.AlertedPct)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, warden.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) spendTotal(ctx context.Context, day string) (int64, error) {
	var total int64
	err := s.read.QueryRowContext(ctx,
		`SELECT spend_cents FROM budget_ledger WHERE day = ?`, day).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}
