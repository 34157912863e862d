package authdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/andy963/ads/internal/apperr"
)

// ErrProjectNotFound is returned by project lookups with no matching row.
var ErrProjectNotFound = errors.New("project not found")

// ListProjects returns userID's projects ordered by sort_order.
func (d *DB) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, project_id, workspace_root, display_name, COALESCE(chat_session_id, ''), sort_order, created_at, updated_at
		 FROM projects WHERE user_id = ? ORDER BY sort_order ASC`, userID)
	if err != nil {
		return nil, apperr.WrapErr(apperr.Storage, err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperr.WrapErr(apperr.Storage, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AllProjects returns every project across every user, for hydrating the
// HTTP API's Runtimes registry at process startup.
func (d *DB) AllProjects(ctx context.Context) ([]Project, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id, project_id, workspace_root, display_name, COALESCE(chat_session_id, ''), sort_order, created_at, updated_at
		 FROM projects ORDER BY user_id ASC, sort_order ASC`)
	if err != nil {
		return nil, apperr.WrapErr(apperr.Storage, err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperr.WrapErr(apperr.Storage, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateProject inserts a project at the end of userID's sort order.
func (d *DB) CreateProject(ctx context.Context, userID, projectID, workspaceRoot, displayName string, now time.Time) (Project, error) {
	var nextOrder int
	row := d.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order) + 1, 0) FROM projects WHERE user_id = ?`, userID)
	if err := row.Scan(&nextOrder); err != nil {
		return Project{}, apperr.WrapErr(apperr.Storage, err)
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO projects (user_id, project_id, workspace_root, display_name, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, projectID, workspaceRoot, displayName, nextOrder, now.Unix(), now.Unix())
	if err != nil {
		return Project{}, apperr.WrapErr(apperr.Storage, err)
	}
	return Project{
		UserID: userID, ProjectID: projectID, WorkspaceRoot: workspaceRoot,
		DisplayName: displayName, SortOrder: nextOrder, CreatedAt: now, UpdatedAt: now,
	}, nil
}

// UpdateProject renames a project and/or updates its chat session id.
func (d *DB) UpdateProject(ctx context.Context, userID, projectID, displayName, chatSessionID string, now time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE projects SET display_name = ?, chat_session_id = ?, updated_at = ? WHERE user_id = ? AND project_id = ?`,
		displayName, chatSessionID, now.Unix(), userID, projectID)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	return requireRowsAffected(res, ErrProjectNotFound)
}

// DeleteProject removes a project.
func (d *DB) DeleteProject(ctx context.Context, userID, projectID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM projects WHERE user_id = ? AND project_id = ?`, userID, projectID)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	return requireRowsAffected(res, ErrProjectNotFound)
}

// ReorderProjects persists a new sort_order for each entry in orderedIDs
// (index = new sort_order), in one transaction.
func (d *DB) ReorderProjects(ctx context.Context, userID string, orderedIDs []string, now time.Time) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	for i, id := range orderedIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET sort_order = ?, updated_at = ? WHERE user_id = ? AND project_id = ?`,
			i, now.Unix(), userID, id); err != nil {
			_ = tx.Rollback()
			return apperr.WrapErr(apperr.Storage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	return nil
}

func scanProject(rows *sql.Rows) (Project, error) {
	var p Project
	var createdAt, updatedAt int64
	if err := rows.Scan(&p.UserID, &p.ProjectID, &p.WorkspaceRoot, &p.DisplayName, &p.ChatSessionID, &p.SortOrder, &createdAt, &updatedAt); err != nil {
		return Project{}, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}

func requireRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
