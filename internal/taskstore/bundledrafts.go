package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/dbutil"
)

// BundleTaskSpec is one task to be materialized when its draft is approved.
type BundleTaskSpec struct {
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// BundleDraft groups a set of proposed tasks awaiting a single approve call.
type BundleDraft struct {
	ID             string
	Specs          []BundleTaskSpec
	CreatedTaskIDs []string
	Approved       bool
	CreatedAt      time.Time
}

// CreateBundleDraft records a proposed set of tasks for later approval. id
// is generated if empty.
func (s *Store) CreateBundleDraft(ctx context.Context, id string, specs []BundleTaskSpec, now time.Time) (BundleDraft, error) {
	if id == "" {
		id = uuid.NewString()
	}
	specsJSON, err := json.Marshal(specs)
	if err != nil {
		return BundleDraft{}, apperr.Wrap(apperr.Input, "encode bundle specs: %v", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_bundle_drafts (id, specs, created_task_ids, approved, created_at)
		VALUES (?, ?, NULL, 0, ?)`,
		id, string(specsJSON), now.UnixMilli())
	if err != nil {
		return BundleDraft{}, apperr.WrapErr(apperr.Storage, err)
	}
	return BundleDraft{ID: id, Specs: specs, CreatedAt: now}, nil
}

// ApproveBundleDraft materializes a draft's specs into queued Tasks on its
// first call. A repeat call for an already-approved draft is a no-op that
// returns the same createdTaskIds recorded the first time, matching the
// spec's idempotent-approve requirement.
func (s *Store) ApproveBundleDraft(ctx context.Context, draftID string, now time.Time) ([]string, error) {
	var createdIDs []string
	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		draft, err := getBundleDraftTx(ctx, tx, draftID)
		if err != nil {
			return err
		}
		if draft.Approved {
			createdIDs = draft.CreatedTaskIDs
			return nil
		}

		ids := make([]string, 0, len(draft.Specs))
		for _, spec := range draft.Specs {
			taskID := uuid.NewString()
			queueOrder := now.UnixMilli() + int64(len(ids))
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tasks (id, title, prompt, status, priority, queue_order, inherit_context, retry_count, max_retries, created_at)
				VALUES (?, ?, ?, ?, 0, ?, 0, 0, 0, ?)`,
				taskID, spec.Title, spec.Prompt, string(StatusQueued), queueOrder, now.UnixMilli()); err != nil {
				return err
			}
			ids = append(ids, taskID)
		}

		idsJSON, err := json.Marshal(ids)
		if err != nil {
			return apperr.Wrap(apperr.Input, "encode created task ids: %v", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE task_bundle_drafts SET created_task_ids = ?, approved = 1 WHERE id = ?`,
			string(idsJSON), draftID); err != nil {
			return err
		}
		createdIDs = ids
		return nil
	})
	return createdIDs, err
}

func getBundleDraftTx(ctx context.Context, tx *sql.Tx, draftID string) (BundleDraft, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, specs, created_task_ids, approved, created_at FROM task_bundle_drafts WHERE id = ?`, draftID)

	var d BundleDraft
	var specsJSON string
	var createdIDsJSON sql.NullString
	var approved int
	var createdAt int64
	if err := row.Scan(&d.ID, &specsJSON, &createdIDsJSON, &approved, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return BundleDraft{}, apperr.Wrap(apperr.Input, "bundle draft %q not found", draftID)
		}
		return BundleDraft{}, err
	}
	if err := json.Unmarshal([]byte(specsJSON), &d.Specs); err != nil {
		return BundleDraft{}, apperr.Wrap(apperr.Storage, "decode bundle specs: %v", err)
	}
	if createdIDsJSON.Valid {
		if err := json.Unmarshal([]byte(createdIDsJSON.String), &d.CreatedTaskIDs); err != nil {
			return BundleDraft{}, apperr.Wrap(apperr.Storage, "decode created task ids: %v", err)
		}
	}
	d.Approved = approved != 0
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	return d, nil
}
