package taskstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/dbutil"
)

// Attachment mirrors the spec's Attachment entity: a content-addressed blob,
// optionally assigned to a task.
type Attachment struct {
	ID          string
	TaskID      string // "" until AssignAttachment binds it
	SHA256      string
	ContentType string
	SizeBytes   int64
	Width       int
	Height      int
	Filename    string
	StorageURL  string
}

// SetBlobRoot points the Store at the directory attachment blobs are
// written to and read from — normally <workspaceRoot>/.ads/attachments.
// CreateAttachment/ReadBlob return apperr.Storage until this is called.
func (s *Store) SetBlobRoot(root string) {
	s.blobRoot = root
}

// CreateAttachment writes content to the content-addressed blob store
// (attachments/<sha256>.bin, spec's "Persisted file layout") and inserts its
// row unassigned — AssignAttachment binds it to a task once one exists.
// Writing the same content twice reuses the existing blob; sha256 is the
// blob's real identity, so rewriting it is always a no-op.
func (s *Store) CreateAttachment(ctx context.Context, content []byte, contentType, filename string, width, height int) (Attachment, error) {
	if s.blobRoot == "" {
		return Attachment{}, apperr.Wrap(apperr.Storage, "attachment blob root not configured")
	}
	if err := os.MkdirAll(s.blobRoot, 0o755); err != nil {
		return Attachment{}, apperr.WrapErr(apperr.Storage, fmt.Errorf("create blob root: %w", err))
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	blobPath := filepath.Join(s.blobRoot, hash+".bin")
	if _, err := os.Stat(blobPath); os.IsNotExist(err) {
		if err := os.WriteFile(blobPath, content, 0o644); err != nil {
			return Attachment{}, apperr.WrapErr(apperr.Storage, fmt.Errorf("write attachment blob: %w", err))
		}
	}

	att := Attachment{
		ID:          uuid.NewString(),
		SHA256:      hash,
		ContentType: contentType,
		SizeBytes:   int64(len(content)),
		Width:       width,
		Height:      height,
		Filename:    filename,
		StorageURL:  "attachments/" + hash + ".bin",
	}

	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO attachments (id, task_id, sha256, content_type, size_bytes, width, height, filename, storage_url)
			VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?)`,
			att.ID, att.SHA256, att.ContentType, att.SizeBytes,
			nullableInt(att.Width), nullableInt(att.Height), nullableString(att.Filename), att.StorageURL)
		return execErr
	})
	if err != nil {
		return Attachment{}, apperr.WrapErr(apperr.Storage, err)
	}
	return att, nil
}

// AssignAttachment binds an unassigned attachment to a task — the
// "attachments-assignment" operation spec §2 Module G names, used when a
// file uploaded ahead of a prompt is later attached to the task it backs.
func (s *Store) AssignAttachment(ctx context.Context, attachmentID, taskID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attachments SET task_id = ? WHERE id = ?`, taskID, attachmentID)
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.WrapErr(apperr.Storage, err)
	}
	if n == 0 {
		return apperr.Wrap(apperr.Input, "attachment %q not found", attachmentID)
	}
	return nil
}

// ListAttachments returns a task's attachments, or every unassigned
// attachment when taskID is "".
func (s *Store) ListAttachments(ctx context.Context, taskID string) ([]Attachment, error) {
	query := `SELECT id, task_id, sha256, content_type, size_bytes, width, height, filename, storage_url FROM attachments WHERE task_id `
	var args []any
	if taskID == "" {
		query += `IS NULL`
	} else {
		query += `= ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.WrapErr(apperr.Storage, err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, apperr.WrapErr(apperr.Storage, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAttachment returns one attachment by id, or apperr.Input if unknown.
func (s *Store) GetAttachment(ctx context.Context, id string) (Attachment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, sha256, content_type, size_bytes, width, height, filename, storage_url
		FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return Attachment{}, apperr.Wrap(apperr.Input, "attachment %q not found", id)
	}
	if err != nil {
		return Attachment{}, apperr.WrapErr(apperr.Storage, err)
	}
	return a, nil
}

// ReadBlob looks up id and reads its blob content from the blob store.
func (s *Store) ReadBlob(ctx context.Context, id string) (Attachment, []byte, error) {
	a, err := s.GetAttachment(ctx, id)
	if err != nil {
		return Attachment{}, nil, err
	}
	if s.blobRoot == "" {
		return Attachment{}, nil, apperr.Wrap(apperr.Storage, "attachment blob root not configured")
	}
	content, err := os.ReadFile(filepath.Join(s.blobRoot, a.SHA256+".bin"))
	if err != nil {
		return Attachment{}, nil, apperr.WrapErr(apperr.Storage, fmt.Errorf("read attachment blob: %w", err))
	}
	return a, content, nil
}

func scanAttachment(row scanner) (Attachment, error) {
	var a Attachment
	var taskID, filename sql.NullString
	var width, height sql.NullInt64

	if err := row.Scan(&a.ID, &taskID, &a.SHA256, &a.ContentType, &a.SizeBytes, &width, &height, &filename, &a.StorageURL); err != nil {
		return Attachment{}, err
	}
	a.TaskID = taskID.String
	a.Filename = filename.String
	a.Width = int(width.Int64)
	a.Height = int(height.Int64)
	return a, nil
}

func nullableInt(v int) any {
	if v <= 0 {
		return nil
	}
	return v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
