// Package authdb implements the process-global auth database: User,
// Session, Project, and Prompt, scrypt password hashing, and
// sha256(token ⊕ pepper) session-token hashing, grounded on threadstore's
// dbutil.ApplySchema-over-raw-SQL convention.
package authdb

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/scrypt"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/dbutil"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		disabled_at INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		token_hash TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		revoked_at INTEGER,
		last_seen_at INTEGER,
		last_seen_ip TEXT,
		user_agent TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
	`CREATE TABLE IF NOT EXISTS projects (
		user_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		workspace_root TEXT NOT NULL,
		display_name TEXT NOT NULL,
		chat_session_id TEXT,
		sort_order INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, project_id),
		UNIQUE (user_id, workspace_root)
	)`,
	`CREATE TABLE IF NOT EXISTS prompts (
		user_id TEXT NOT NULL,
		prompt_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, prompt_id)
	)`,
}

const scryptN, scryptR, scryptP, scryptKeyLen = 1 << 15, 8, 1, 32

var (
	// ErrUsernameTaken is returned by CreateUser on a duplicate username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials is returned by VerifyLogin on a username/password
	// mismatch or a disabled account.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrSessionNotFound is returned when a token hash matches no live,
	// unexpired, unrevoked session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is returned by SetPassword for an unknown username.
	ErrUserNotFound = errors.New("user not found")
)

// User is one row of the users table. PasswordHash is never exposed
// outside this package's verify/create paths.
type User struct {
	ID         string
	Username   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DisabledAt *time.Time
}

// Session is one row of the sessions table.
type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastSeenAt *time.Time
}

// Project is one row of the projects table.
type Project struct {
	UserID        string
	ProjectID     string
	WorkspaceRoot string
	DisplayName   string
	ChatSessionID string
	SortOrder     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Prompt is one row of the prompts table.
type Prompt struct {
	UserID    string
	PromptID  string
	Name      string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DB is the process-global auth database.
type DB struct {
	db     *sql.DB
	pepper string
	ttl    time.Duration
}

// Options configures a DB.
type Options struct {
	// Pepper is XORed (byte-for-byte, cycling) into every session token
	// before hashing, so a stolen state.db file alone can't forge cookies.
	Pepper string
	// SessionTTL is how long a freshly created session lives. Defaults to
	// 30 days.
	SessionTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionTTL <= 0 {
		o.SessionTTL = 30 * 24 * time.Hour
	}
	return o
}

// Open applies the schema and returns a DB.
func Open(ctx context.Context, sqlDB *sql.DB, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if err := dbutil.ApplySchema(ctx, sqlDB, schemaStatements); err != nil {
		return nil, err
	}
	return &DB{db: sqlDB, pepper: opts.Pepper, ttl: opts.SessionTTL}, nil
}

// CreateUser hashes password with scrypt and inserts a new user row.
func (d *DB) CreateUser(ctx context.Context, id, username, password string, now time.Time) (User, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return User{}, apperr.WrapErr(apperr.Storage, err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, username, hash, now.Unix(), now.Unix())
	if err != nil {
		if dbutil.IsUniqueConstraint(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, apperr.WrapErr(apperr.Storage, err)
	}
	return User{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}, nil
}

// SetPassword rehashes password under a fresh salt and stores it against
// username, for `ads reset-admin` and any future self-service password
// change. Returns ErrUserNotFound if username doesn't exist.
func (d *DB) SetPassword(ctx context.Context, username, password string, now time.Time) error {
	hash, err := hashPassword(password)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?`,
		hash, now.Unix(), username)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	return requireRowsAffected(res, ErrUserNotFound)
}

// VerifyLogin looks up username, verifies password in constant time, and
// rejects disabled accounts. Returns apperr.Auth-kind errors (via
// ErrInvalidCredentials) on any mismatch, never distinguishing "no such
// user" from "wrong password" in the returned error.
func (d *DB) VerifyLogin(ctx context.Context, username, password string) (User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at, updated_at, disabled_at FROM users WHERE username = ?`,
		username)

	var u User
	var hash string
	var createdAt, updatedAt int64
	var disabledAt sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &hash, &createdAt, &updatedAt, &disabledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, apperr.WrapErr(apperr.Auth, ErrInvalidCredentials)
		}
		return User{}, apperr.WrapErr(apperr.Storage, err)
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if disabledAt.Valid {
		t := time.Unix(disabledAt.Int64, 0).UTC()
		u.DisabledAt = &t
	}

	if u.DisabledAt != nil {
		return User{}, apperr.WrapErr(apperr.Auth, ErrInvalidCredentials)
	}
	ok, err := verifyPassword(password, hash)
	if err != nil {
		return User{}, apperr.WrapErr(apperr.Storage, err)
	}
	if !ok {
		return User{}, apperr.WrapErr(apperr.Auth, ErrInvalidCredentials)
	}
	return u, nil
}

// CreateSession mints a random token, stores only its peppered hash, and
// returns the raw token (for the Set-Cookie value) alongside the Session
// row.
func (d *DB) CreateSession(ctx context.Context, id, userID string, now time.Time) (Session, string, error) {
	token, err := randomToken()
	if err != nil {
		return Session{}, "", apperr.WrapErr(apperr.Storage, err)
	}
	expiresAt := now.Add(d.ttl)

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, d.hashToken(token), now.Unix(), expiresAt.Unix())
	if err != nil {
		return Session{}, "", apperr.WrapErr(apperr.Storage, err)
	}
	return Session{ID: id, UserID: userID, CreatedAt: now, ExpiresAt: expiresAt}, token, nil
}

// VerifySession resolves a raw cookie token to its live session, rejecting
// expired or revoked ones. On success it updates last_seen_at/ip/ua.
func (d *DB) VerifySession(ctx context.Context, token string, now time.Time, remoteIP, userAgent string) (Session, error) {
	hash := d.hashToken(token)
	row := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at, revoked_at FROM sessions WHERE token_hash = ?`, hash)

	var s Session
	var createdAt, expiresAt int64
	var revokedAt sql.NullInt64
	if err := row.Scan(&s.ID, &s.UserID, &createdAt, &expiresAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, apperr.WrapErr(apperr.Auth, ErrSessionNotFound)
		}
		return Session{}, apperr.WrapErr(apperr.Storage, err)
	}
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0).UTC()
		s.RevokedAt = &t
		return Session{}, apperr.WrapErr(apperr.Auth, ErrSessionNotFound)
	}
	if !now.Before(s.ExpiresAt) {
		return Session{}, apperr.WrapErr(apperr.Auth, ErrSessionNotFound)
	}

	_, err := d.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = ?, last_seen_ip = ?, user_agent = ? WHERE id = ?`,
		now.Unix(), remoteIP, userAgent, s.ID)
	if err != nil {
		return Session{}, apperr.WrapErr(apperr.Storage, err)
	}
	return s, nil
}

// RevokeSession marks token's session revoked (logout). A no-op, not an
// error, if the token matches no session.
func (d *DB) RevokeSession(ctx context.Context, token string, now time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL`,
		now.Unix(), d.hashToken(token))
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	return nil
}

func (d *DB) hashToken(token string) string {
	peppered := xorPepper(token, d.pepper)
	sum := sha256.Sum256([]byte(peppered))
	return hex.EncodeToString(sum[:])
}

func xorPepper(token, pepper string) string {
	if pepper == "" {
		return token
	}
	out := make([]byte, len(token))
	for i := 0; i < len(token); i++ {
		out[i] = token[i] ^ pepper[i%len(pepper)]
	}
	return string(out)
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// hashPassword derives a scrypt key under a fresh random salt and encodes
// both into one stored string: "salt_hex:key_hex".
func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// verifyPassword recomputes the scrypt key under the stored salt and
// compares in constant time.
func verifyPassword(password, stored string) (bool, error) {
	sepIdx := indexByte(stored, ':')
	if sepIdx < 0 {
		return false, errors.New("malformed password hash")
	}
	salt, err := hex.DecodeString(stored[:sepIdx])
	if err != nil {
		return false, err
	}
	want, err := hex.DecodeString(stored[sepIdx+1:])
	if err != nil {
		return false, err
	}
	got, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
