// Package sqlite backs the storage interfaces with a single SQLite file
// via modernc.org/sqlite. Sessions, conversations, rate counters and the
// spend ledger all live in one database so a deployment is one file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// WAL lets readers proceed while the governance commits write; the busy
// timeout covers writer contention under load.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

// Store implements storage.Store on SQLite. Writes go through a
// single-connection pool; reads fan out.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the database at dsn, applies pending migrations and returns
// the store. ":memory:" yields a throwaway database, used by tests.
func New(dsn string) (*Store, error) {
	// In-memory databases need shared cache or each pool would get its
	// own empty database.
	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := runMigrations(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

// runMigrations brings the schema up to date from the embedded SQL files.
// fs.Sub strips the "migrations/" prefix so goose sees them at the root.
func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Ping reports whether the database is reachable. The health endpoint
// calls it against the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close releases both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
