package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const ddl = `
CREATE TABLE IF NOT EXISTS assets (
	id         TEXT PRIMARY KEY,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fields (
	id         TEXT PRIMARY KEY,
	definition TEXT NOT NULL,
	kind       TEXT NOT NULL,
	persistent INTEGER NOT NULL DEFAULT 0,
	deleted    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS field_locks (
	asset_id   TEXT NOT NULL,
	field_id   TEXT NOT NULL,
	holder_id  TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (asset_id, field_id)
);

CREATE TABLE IF NOT EXISTS record_locks (
	field_id   TEXT PRIMARY KEY,
	holder_id  TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	actor        TEXT NOT NULL,
	at           INTEGER NOT NULL,
	action       TEXT NOT NULL,
	asset_id     TEXT,
	field_id     TEXT,
	before_value TEXT,
	after_value  TEXT
);
`

// Store is the SQLite-backed implementation of the inventory and of
// LockStore. It also satisfies SubjectChecker for external lock backends.
type Store struct {
	db    *sql.DB
	lease time.Duration

	// now is replaceable so lock-expiry tests can travel in time.
	now func() time.Time
}

// Open opens (creating if needed) the database at path and prepares the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string, lease time.Duration) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer at a time. A single connection serializes all
	// statements, which is what makes every multi-statement transaction here
	// behave as an atomic unit without SQLITE_BUSY handling.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare schema: %w", err)
	}

	return &Store{db: db, lease: lease, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lease returns the configured lock lease duration.
func (s *Store) Lease() time.Duration {
	return s.lease
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// AssetExists reports whether a live (not soft-deleted) asset exists.
func (s *Store) AssetExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets WHERE id = ? AND deleted = 0`, id).Scan(&n)
	return n > 0, err
}

// FieldExists reports whether a live field definition exists.
func (s *Store) FieldExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fields WHERE id = ? AND deleted = 0`, id).Scan(&n)
	return n > 0, err
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
