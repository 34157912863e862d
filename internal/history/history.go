// Package history implements the append-only per-session History Store:
// SQLite-backed message log with retention trimming and client-message-id
// dedup for WebSocket idempotent acks.
package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/andy963/ads/internal/dbutil"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		kind TEXT,
		ts INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_session_id ON history(session_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_history_session_kind ON history(session_id, kind)`,
}

// Entry is one row in a session's history.
type Entry struct {
	ID        int64
	SessionID string
	Role      string
	Text      string
	Kind      string
	Ts        time.Time
}

// Store is a SQLite-backed History Store.
type Store struct {
	db             *sql.DB
	maxEntries     int
	maxTextLength  int
	dedupWindow    time.Duration
}

// Options configures a Store.
type Options struct {
	MaxEntries    int           // retain at most this many rows per session
	MaxTextLength int           // truncate text beyond this, appending an ellipsis
	DedupWindow   time.Duration // window within which a duplicate client_message_id is dropped
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = 500
	}
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = 8000
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 5 * time.Minute
	}
	return o
}

// Open opens (creating if necessary) the history schema in db.
func Open(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	if err := dbutil.ApplySchema(ctx, db, schemaStatements); err != nil {
		return nil, err
	}
	return &Store{db: db, maxEntries: opts.MaxEntries, maxTextLength: opts.MaxTextLength, dedupWindow: opts.DedupWindow}, nil
}

// Add appends a row for sessionID. It returns inserted=false (and skips the
// insert) when kind has the form "client_message_id:X" and an identical
// kind was already recorded for this session within the dedup window —
// the idempotent-ack mechanism for WebSocket prompt retries.
func (s *Store) Add(ctx context.Context, sessionID, role, text, kind string, now time.Time) (inserted bool, err error) {
	text = truncateText(text, s.maxTextLength)

	err = dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if strings.HasPrefix(kind, "client_message_id:") {
			cutoff := now.Add(-s.dedupWindow).Unix()
			var count int
			row := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM history WHERE session_id = ? AND kind = ? AND ts >= ?`,
				sessionID, kind, cutoff)
			if scanErr := row.Scan(&count); scanErr != nil {
				return scanErr
			}
			if count > 0 {
				inserted = false
				return nil
			}
		}

		_, execErr := tx.ExecContext(ctx,
			`INSERT INTO history (session_id, role, text, kind, ts) VALUES (?, ?, ?, ?, ?)`,
			sessionID, role, text, nullableKind(kind), now.Unix())
		if execErr != nil {
			return execErr
		}
		inserted = true
		return s.trimLocked(ctx, tx, sessionID)
	})
	return inserted, err
}

// Get returns sessionID's rows oldest-first.
func (s *Store) Get(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, COALESCE(kind, ''), ts FROM history WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Text, &e.Kind, &ts); err != nil {
			return nil, err
		}
		e.Ts = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear deletes every row for sessionID, for a client-initiated
// {type:"clear_history"} request.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE session_id = ?`, sessionID)
	return err
}

// Since returns sessionID's rows with id > afterID, oldest-first. Used by
// the vector-context indexer to pick up new messages since its last scan.
func (s *Store) Since(ctx context.Context, sessionID string, afterID int64) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, COALESCE(kind, ''), ts FROM history
		 WHERE session_id = ? AND id > ? ORDER BY id ASC`,
		sessionID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Text, &e.Kind, &ts); err != nil {
			return nil, err
		}
		e.Ts = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastMeaningfulUserMessage returns the most recent role="user" entry whose
// text is not itself a continuation trigger keyword (used by the
// vector-context indexer's query-rewrite rule). ok is false if none found.
func (s *Store) LastMeaningfulUserMessage(ctx context.Context, sessionID string, isTrigger func(string) bool) (text string, ok bool, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT text FROM history WHERE session_id = ? AND role = 'user' ORDER BY id DESC`,
		sessionID)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	for rows.Next() {
		if err := rows.Scan(&text); err != nil {
			return "", false, err
		}
		if !isTrigger(strings.TrimSpace(text)) {
			return text, true, nil
		}
	}
	return "", false, rows.Err()
}

// trimLocked deletes rows older than the maxEntries-th newest id for
// sessionID, run inside the same transaction as the insert that may have
// pushed the session over the cap.
func (s *Store) trimLocked(ctx context.Context, tx *sql.Tx, sessionID string) error {
	row := tx.QueryRowContext(ctx,
		`SELECT id FROM history WHERE session_id = ? ORDER BY id DESC LIMIT 1 OFFSET ?`,
		sessionID, s.maxEntries-1)
	var cutoffID int64
	if err := row.Scan(&cutoffID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE session_id = ? AND id < ?`, sessionID, cutoffID)
	return err
}

func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}

func nullableKind(kind string) any {
	if kind == "" {
		return nil
	}
	return kind
}
