package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// DefaultSQLitePath is where the observer keeps its database by default.
const DefaultSQLitePath = "DB/db.sqlite3"

// SQLStorage runs snapshot transactions on a database/sql handle.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStorage wraps an open handle. The caller picks the dialect that
// matches the driver.
func NewSQLStorage(db *sql.DB, d Dialect) *SQLStorage {
	return &SQLStorage{db: db, dialect: d}
}

func (s *SQLStorage) Dialect() Dialect { return s.dialect }

// DB exposes the handle for read queries.
func (s *SQLStorage) DB() *sql.DB { return s.db }

func (s *SQLStorage) Close() error { return s.db.Close() }

func (s *SQLStorage) RunTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin tx: %w", err)
	}
	if err := fn(ctx, sqlTx{tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

type sqlTx struct{ tx *sql.Tx }

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

type sqliteConfig struct {
	busyTimeout int
	mkdirAll    bool
}

// SQLiteOption customises OpenSQLite.
type SQLiteOption func(*sqliteConfig)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) SQLiteOption { return func(c *sqliteConfig) { c.busyTimeout = ms } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() SQLiteOption { return func(c *sqliteConfig) { c.mkdirAll = true } }

// OpenSQLite opens the database at path with WAL journaling and a busy timeout.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLStorage, error) {
	cfg := sqliteConfig{busyTimeout: 10_000}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	// Pragmas below are per connection; the harvester never needs a second one.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot: %s: %w", p, err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: ping: %w", err)
	}
	return NewSQLStorage(db, SQLite), nil
}

// OpenMemory opens an in-memory SQLite database for tests and closes it when
// the test ends. Every ":memory:" connection is its own database, so the
// single-connection pool matters here.
func OpenMemory(t testing.TB) *SQLStorage {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("snapshot.OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
