package taskstore

import (
	"context"
	"database/sql"
)

// GetKV returns the value stored under (namespace, key), or ok=false if
// absent. Backs the vector-context indexer's content-hash and history
// scan-cursor bookkeeping.
func (s *Store) GetKV(ctx context.Context, namespace, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM vector_kv WHERE workspace_ns = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetKV upserts (namespace, key) -> value.
func (s *Store) SetKV(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vector_kv (workspace_ns, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(workspace_ns, key) DO UPDATE SET value = excluded.value`,
		namespace, key, value,
	)
	return err
}
