// Package taskstore implements the SQLite-backed Task Store: tasks,
// task messages, task contexts (write-once artifacts), attachments, and a
// small per-workspace key/value table used by the vector-context indexer.
package taskstore

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/dbutil"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusPaused    Status = "paused"
	StatusPlanning  Status = "planning"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var activeStatuses = []Status{StatusPlanning, StatusRunning}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		prompt TEXT NOT NULL,
		model TEXT,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		queue_order INTEGER NOT NULL,
		inherit_context INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		queued_at INTEGER,
		started_at INTEGER,
		completed_at INTEGER,
		result TEXT,
		error TEXT,
		prompt_injected_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_queue_order ON tasks(status, queue_order)`,
	`CREATE TABLE IF NOT EXISTS task_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		plan_step_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT,
		model_used TEXT,
		token_count INTEGER,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_messages_task_id ON task_messages(task_id, id)`,
	`CREATE TABLE IF NOT EXISTS task_contexts (
		task_id TEXT NOT NULL,
		context_type TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (task_id, context_type)
	)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		task_id TEXT,
		sha256 TEXT NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		width INTEGER,
		height INTEGER,
		filename TEXT,
		storage_url TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_task_id ON attachments(task_id)`,
	`CREATE TABLE IF NOT EXISTS vector_kv (
		workspace_ns TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (workspace_ns, key)
	)`,
	`CREATE TABLE IF NOT EXISTS task_bundle_drafts (
		id TEXT PRIMARY KEY,
		specs TEXT NOT NULL,
		created_task_ids TEXT,
		approved INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
}

// Task mirrors the spec's Task entity.
type Task struct {
	ID               string
	Title            string
	Prompt           string
	Model            string
	Status           Status
	Priority         int
	QueueOrder       int64
	InheritContext   bool
	RetryCount       int
	MaxRetries       int
	CreatedAt        time.Time
	QueuedAt         *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Result           string
	Error            string
	PromptInjectedAt *time.Time
}

// Message is one TaskMessage row.
type Message struct {
	ID          int64
	TaskID      string
	PlanStepID  string
	Role        string
	Content     string
	MessageType string
	ModelUsed   string
	TokenCount  int
	CreatedAt   time.Time
}

// Filter narrows ListTasks.
type Filter struct {
	Status Status // empty = any
	Limit  int     // 0 = no limit
}

// Store is a SQLite-backed Task Store, one instance per workspace.
type Store struct {
	db       *sql.DB
	blobRoot string // set via SetBlobRoot; attachment blobs live under here
}

// Open applies the schema and returns a Store bound to db.
func Open(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := dbutil.ApplySchema(ctx, db, schemaStatements); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// CreateTask inserts a new task. queue_order defaults to now (unix millis)
// unless the caller has already picked one via input.QueueOrder != 0.
func (s *Store) CreateTask(ctx context.Context, input Task, now time.Time, status Status) (Task, error) {
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	if status == "" {
		status = StatusPending
	}
	if input.QueueOrder == 0 {
		input.QueueOrder = now.UnixMilli()
	}
	input.Status = status
	input.CreatedAt = now

	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, title, prompt, model, status, priority, queue_order, inherit_context, retry_count, max_retries, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			input.ID, input.Title, input.Prompt, input.Model, string(input.Status), input.Priority,
			input.QueueOrder, boolToInt(input.InheritContext), input.RetryCount, input.MaxRetries, now.UnixMilli())
		return execErr
	})
	return input, err
}

// Enqueue transitions pending -> queued, stamping queued_at and a fresh
// queue_order.
func (s *Store) Enqueue(ctx context.Context, taskID string, now time.Time) error {
	return dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, queued_at = ?, queue_order = ?
			WHERE id = ? AND status = ?`,
			string(StatusQueued), now.UnixMilli(), now.UnixMilli(), taskID, string(StatusPending))
		if err != nil {
			return err
		}
		return requireRowsAffected(res, "task %q is not pending", taskID)
	})
}

// DequeueNextQueuedTask selects the queued task with the smallest
// queue_order, provided no task is currently active, and promotes it to
// pending (the Run Controller's promotion signal). Returns (Task{}, false,
// nil) when there is nothing to dequeue.
func (s *Store) DequeueNextQueuedTask(ctx context.Context, now time.Time) (Task, bool, error) {
	var out Task
	found := false
	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if active, err := hasActiveTx(ctx, tx); err != nil || active {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM tasks WHERE status = ? ORDER BY queue_order ASC LIMIT 1`,
			string(StatusQueued))
		var id string
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(StatusPending), id); err != nil {
			return err
		}
		task, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out = task
		found = true
		return nil
	})
	return out, found, err
}

// ClaimForExecution promotes exactly one pending task per workspace to
// planning, enforced inside one transaction by a check that no task is
// planning or running, followed by an UPDATE guarded on status = pending.
// Returns (Task{}, false, nil) on contention (no eligible row).
func (s *Store) ClaimForExecution(ctx context.Context, now time.Time) (Task, bool, error) {
	var out Task
	found := false
	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if active, err := hasActiveTx(ctx, tx); err != nil || active {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			SELECT id FROM tasks WHERE status = ? ORDER BY queue_order ASC LIMIT 1`,
			string(StatusPending))
		var id string
		if err := row.Scan(&id); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, started_at = ?
			WHERE id = ? AND status = ?`,
			string(StatusPlanning), now.UnixMilli(), id, string(StatusPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil // lost the race to another claimer
		}
		task, err := getTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		out = task
		found = true
		return nil
	})
	return out, found, err
}

// MarkPromptInjected sets prompt_injected_at only if it was null, returning
// true iff this call performed the write (idempotency marker).
func (s *Store) MarkPromptInjected(ctx context.Context, taskID string, now time.Time) (bool, error) {
	wrote := false
	err := dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET prompt_injected_at = ? WHERE id = ? AND prompt_injected_at IS NULL`,
			now.UnixMilli(), taskID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		wrote = n > 0
		return nil
	})
	return wrote, err
}

// UpdateStatus sets status (and, for terminal statuses, completed_at /
// result / error). Terminal transitions are monotonic: a task already in a
// terminal status cannot be moved to any status, including another
// terminal one.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, status Status, now time.Time, result, taskErr string) error {
	return dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status.terminal() {
			return apperr.Wrap(apperr.Storage, "task %q is already terminal (%s)", taskID, current.Status)
		}

		if status.terminal() {
			_, err = tx.ExecContext(ctx, `
				UPDATE tasks SET status = ?, completed_at = ?, result = ?, error = ? WHERE id = ?`,
				string(status), now.UnixMilli(), result, taskErr, taskID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), taskID)
		}
		return err
	})
}

// SetQueueOrder overwrites a task's queue_order directly — used by the Run
// Controller to splice a task to the front of the queue for a single-task
// run without going through Enqueue's pending-only precondition.
func (s *Store) SetQueueOrder(ctx context.Context, taskID string, queueOrder int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET queue_order = ? WHERE id = ?`, queueOrder, taskID)
	return err
}

// SaveContext inserts a write-once artifact for taskID/contextType. A
// second write for the same (task_id, context_type) fails.
func (s *Store) SaveContext(ctx context.Context, taskID, contextType, content string, now time.Time) error {
	return dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		row := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM task_contexts WHERE task_id = ? AND context_type = ?`, taskID, contextType)
		if err := row.Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return apperr.Wrap(apperr.Storage, "context %q already recorded for task %q", contextType, taskID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO task_contexts (task_id, context_type, content, created_at) VALUES (?, ?, ?, ?)`,
			taskID, contextType, content, now.UnixMilli())
		return err
	})
}

// AddMessage appends a TaskMessage row.
func (s *Store) AddMessage(ctx context.Context, msg Message, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_messages (task_id, plan_step_id, role, content, message_type, model_used, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.TaskID, nullIfEmpty(msg.PlanStepID), msg.Role, msg.Content,
		nullIfEmpty(msg.MessageType), nullIfEmpty(msg.ModelUsed), msg.TokenCount, now.UnixMilli())
	return err
}

// ListTasks returns tasks matching filter, newest queue_order first.
func (s *Store) ListTasks(ctx context.Context, filter Filter) ([]Task, error) {
	query := `SELECT id, title, prompt, model, status, priority, queue_order, inherit_context, retry_count, max_retries, created_at, queued_at, started_at, completed_at, result, error, prompt_injected_at FROM tasks`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY queue_order DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetActiveTaskId returns the id of the workspace's currently active task
// (planning or running), or "" if none.
func (s *Store) GetActiveTaskId(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM tasks WHERE status IN (?, ?) LIMIT 1`,
		string(StatusPlanning), string(StatusRunning))
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// RetryFailed increments retry_count (if under max_retries) and returns the
// task to pending at the front of the queue. Returns apperr.Input if the
// retry budget is exhausted.
func (s *Store) RetryFailed(ctx context.Context, taskID string, now time.Time) error {
	return dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		task, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.RetryCount >= task.MaxRetries {
			return apperr.Wrap(apperr.Input, "task %q has exhausted its retry budget", taskID)
		}
		frontOrder, err := minQueueOrderTx(ctx, tx)
		if err != nil {
			return err
		}
		newOrder := safeDecrement(frontOrder)

		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, retry_count = retry_count + 1, queue_order = ? WHERE id = ?`,
			string(StatusPending), newOrder, taskID)
		return err
	})
}

func hasActiveTx(ctx context.Context, tx *sql.Tx) (bool, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM tasks WHERE status IN (?, ?)`,
		string(StatusPlanning), string(StatusRunning))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func minQueueOrderTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	row := tx.QueryRowContext(ctx, `SELECT MIN(queue_order) FROM tasks`)
	var min sql.NullInt64
	if err := row.Scan(&min); err != nil {
		return 0, err
	}
	if !min.Valid {
		return 0, nil
	}
	return min.Int64, nil
}

func safeDecrement(v int64) int64 {
	if v == math.MinInt64 {
		return v
	}
	return v - 1
}

func getTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (Task, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, title, prompt, model, status, priority, queue_order, inherit_context, retry_count, max_retries, created_at, queued_at, started_at, completed_at, result, error, prompt_injected_at
		FROM tasks WHERE id = ?`, taskID)
	return scanTask(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (Task, error) {
	var t Task
	var status string
	var inherit int
	var createdAt int64
	var queuedAt, startedAt, completedAt, promptInjectedAt sql.NullInt64
	var result, taskErr sql.NullString

	if err := row.Scan(&t.ID, &t.Title, &t.Prompt, &t.Model, &status, &t.Priority, &t.QueueOrder,
		&inherit, &t.RetryCount, &t.MaxRetries, &createdAt, &queuedAt, &startedAt, &completedAt,
		&result, &taskErr, &promptInjectedAt); err != nil {
		if err == sql.ErrNoRows {
			return Task{}, apperr.Wrap(apperr.Input, "task not found")
		}
		return Task{}, err
	}

	t.Status = Status(status)
	t.InheritContext = inherit != 0
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.QueuedAt = millisPtr(queuedAt)
	t.StartedAt = millisPtr(startedAt)
	t.CompletedAt = millisPtr(completedAt)
	t.PromptInjectedAt = millisPtr(promptInjectedAt)
	t.Result = result.String
	t.Error = taskErr.String
	return t, nil
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRowsAffected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.Wrap(apperr.Input, format, args...)
	}
	return nil
}
