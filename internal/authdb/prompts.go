package authdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/andy963/ads/internal/apperr"
)

// ErrPromptNotFound is returned by prompt lookups with no matching row.
var ErrPromptNotFound = errors.New("prompt not found")

// ListPrompts returns userID's saved prompts.
func (d *DB) ListPrompts(ctx context.Context, userID string) ([]Prompt, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, prompt_id, name, content, created_at, updated_at FROM prompts WHERE user_id = ? ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, apperr.WrapErr(apperr.Storage, err)
	}
	defer rows.Close()

	var out []Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, apperr.WrapErr(apperr.Storage, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPrompt creates or overwrites userID's promptID.
func (d *DB) UpsertPrompt(ctx context.Context, userID, promptID, name, content string, now time.Time) (Prompt, error) {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO prompts (user_id, prompt_id, name, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, prompt_id) DO UPDATE SET name = excluded.name, content = excluded.content, updated_at = excluded.updated_at`,
		userID, promptID, name, content, now.Unix(), now.Unix())
	if err != nil {
		return Prompt{}, apperr.WrapErr(apperr.Storage, err)
	}
	return Prompt{UserID: userID, PromptID: promptID, Name: name, Content: content, CreatedAt: now, UpdatedAt: now}, nil
}

// DeletePrompt removes a saved prompt.
func (d *DB) DeletePrompt(ctx context.Context, userID, promptID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM prompts WHERE user_id = ? AND prompt_id = ?`, userID, promptID)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	return requireRowsAffected(res, ErrPromptNotFound)
}

func scanPrompt(rows *sql.Rows) (Prompt, error) {
	var p Prompt
	var createdAt, updatedAt int64
	if err := rows.Scan(&p.UserID, &p.PromptID, &p.Name, &p.Content, &createdAt, &updatedAt); err != nil {
		return Prompt{}, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}
