// Package dbutil provides shared SQLite connection setup used by every
// per-workspace state.db and the single global auth database.
//
// Each caller owns its own *sql.DB; this package only standardizes how
// that DB is opened and schema'd so every store applies the same pragmas.
package dbutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens a SQLite database at path with WAL journaling and a busy
// timeout, matching the "one connection per database, writers serialized by
// an external mutex" contract the Workspace Lock Pool relies on to avoid
// SQLITE_BUSY.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}
	return db, nil
}

// ApplySchema runs each DDL statement in order, idempotently. Statements
// are CREATE TABLE/INDEX IF NOT EXISTS so repeated application on every
// process start is safe — this stands in for a migrations directory, which
// doesn't map cleanly onto N arbitrarily-rooted per-workspace databases.
func ApplySchema(ctx context.Context, db *sql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// IsUniqueConstraint reports whether err is a UNIQUE constraint violation.
// modernc.org/sqlite surfaces SQLite's own message text rather than a typed
// error, so this matches on that text instead of a driver-specific code.
func IsUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise, so no partial commit of fn's statements can persist on
// failure.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
