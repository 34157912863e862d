// Package threadstore persists per-user agent thread ids in the
// per-workspace state.db, peppered by a salt stored once in the same
// table, with a one-time migration from a legacy on-disk JSON file.
package threadstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/andy963/ads/internal/dbutil"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS thread_kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

const (
	saltKey           = "thread_salt"
	legacyMigratedKey = "thread_legacy_migrated"
	userHashPrefix    = "thread_user:"
)

// Store is the per-workspace thread-id store.
type Store struct {
	db         *sql.DB
	legacyPath string // legacy JSON file path; "" disables migration/mirroring
}

// Options configures a Store.
type Options struct {
	// LegacyJSONPath, if set, is read once to migrate entries into the KV
	// table, and mirrored to on every Set for backward compatibility with
	// tooling that still reads the file directly.
	LegacyJSONPath string
}

// Open applies the schema, runs the legacy migration if configured and not
// yet done, and returns a Store.
func Open(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	if err := dbutil.ApplySchema(ctx, db, schemaStatements); err != nil {
		return nil, err
	}
	s := &Store{db: db, legacyPath: opts.LegacyJSONPath}
	if err := s.ensureSalt(ctx); err != nil {
		return nil, err
	}
	if err := s.migrateLegacy(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// userHash peppers userID with the store's salt: sha256(userID + ":" + salt).
func (s *Store) userHash(ctx context.Context, userID string) (string, error) {
	salt, err := s.getSalt(ctx)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(userID + ":" + salt))
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) ensureSalt(ctx context.Context) error {
	_, err := s.getValue(ctx, saltKey)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	salt, err := randomSalt()
	if err != nil {
		return err
	}
	return s.setValue(ctx, saltKey, salt)
}

func (s *Store) getSalt(ctx context.Context) (string, error) {
	return s.getValue(ctx, saltKey)
}

// GetThreadIDs returns the saved agentId->threadId map for userID, or an
// empty map if none is recorded. A legacy single-string value (pre-
// multi-agent) is surfaced under the empty agent id key "".
func (s *Store) GetThreadIDs(ctx context.Context, userID string) (map[string]string, error) {
	hash, err := s.userHash(ctx, userID)
	if err != nil {
		return nil, err
	}
	raw, err := s.getValue(ctx, userHashPrefix+hash)
	if err == sql.ErrNoRows {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseThreadValue(raw)
}

// SetThreadIDs persists ids (serialized as JSON) for userID and mirrors to
// the legacy file, if configured.
func (s *Store) SetThreadIDs(ctx context.Context, userID string, ids map[string]string) error {
	hash, err := s.userHash(ctx, userID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if err := s.setValue(ctx, userHashPrefix+hash, string(raw)); err != nil {
		return err
	}
	return s.mirrorLegacy(userID, ids)
}

func parseThreadValue(raw string) (map[string]string, error) {
	var ids map[string]string
	if err := json.Unmarshal([]byte(raw), &ids); err == nil {
		return ids, nil
	}
	// Legacy single-agent value: a bare (non-JSON-object) string.
	return map[string]string{"": raw}, nil
}

// migrateLegacy reads the legacy JSON file (if configured and present) and
// upserts each entry in one transaction, guarded by an idempotent marker
// so this only ever runs once.
func (s *Store) migrateLegacy(ctx context.Context) error {
	if s.legacyPath == "" {
		return nil
	}
	if _, err := s.getValue(ctx, legacyMigratedKey); err == nil {
		return nil // already migrated
	} else if err != sql.ErrNoRows {
		return err
	}

	data, err := os.ReadFile(s.legacyPath)
	if os.IsNotExist(err) {
		return s.setValue(ctx, legacyMigratedKey, "1")
	}
	if err != nil {
		return err
	}

	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}

	// Hash outside the transaction: userHash reads the salt through s.db,
	// which would wait forever for the single connection the tx holds.
	hashes := make(map[string]string, len(legacy))
	for userID := range legacy {
		hash, err := s.userHash(ctx, userID)
		if err != nil {
			return err
		}
		hashes[userID] = hash
	}

	return dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for userID, rawIDs := range legacy {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO thread_kv (key, value) VALUES (?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
				userHashPrefix+hashes[userID], string(rawIDs)); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO thread_kv (key, value) VALUES (?, '1')
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			legacyMigratedKey)
		return err
	})
}

// mirrorLegacy rewrites the legacy JSON file's entry for userID, for
// tooling that still reads the file directly. Best-effort: errors are
// swallowed since the KV table is the source of truth.
func (s *Store) mirrorLegacy(userID string, ids map[string]string) error {
	if s.legacyPath == "" {
		return nil
	}
	existing := map[string]map[string]string{}
	if data, err := os.ReadFile(s.legacyPath); err == nil {
		_ = json.Unmarshal(data, &existing)
	}
	if existing == nil {
		existing = map[string]map[string]string{}
	}
	existing[userID] = ids
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return nil
	}
	_ = os.WriteFile(s.legacyPath, data, 0o600)
	return nil
}

func randomSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (s *Store) getValue(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM thread_kv WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) setValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}
