package runcontrol

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/andy963/ads/internal/dbutil"
	"github.com/andy963/ads/internal/taskqueue"
	"github.com/andy963/ads/internal/taskstore"
	"github.com/andy963/ads/internal/wslock"
)

type noopResolver struct{}

func (noopResolver) Resolve(ctx context.Context, task taskstore.Task) (taskqueue.HubRunner, error) {
	return nil, context.Canceled
}

func newTestController(t *testing.T) (*Controller, *taskstore.Store) {
	t.Helper()
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := taskstore.Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	worker := taskqueue.New(store, noopResolver{}, nil, nil, wslock.New(), taskqueue.Options{WorkspaceRoot: t.TempDir()})
	return New(store, worker), store
}

func TestRequestSingleTaskRun_NotFound(t *testing.T) {
	c, _ := newTestController(t)
	r := c.RequestSingleTaskRun(context.Background(), "missing")
	if r.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", r.StatusCode)
	}
}

func TestRequestSingleTaskRun_ConflictWhenModeAll(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	task, _ := store.CreateTask(ctx, taskstore.Task{Title: "t", Prompt: "x"}, time.Now(), taskstore.StatusPending)
	c.SetModeAll()

	r := c.RequestSingleTaskRun(ctx, task.ID)
	if r.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", r.StatusCode)
	}
}

func TestRequestSingleTaskRun_ConflictWhenAnotherTaskActive(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	now := time.Now()

	active, _ := store.CreateTask(ctx, taskstore.Task{Title: "active", Prompt: "x"}, now, taskstore.StatusPending)
	store.ClaimForExecution(ctx, now.Add(time.Second))
	other, _ := store.CreateTask(ctx, taskstore.Task{Title: "other", Prompt: "y"}, now.Add(2*time.Second), taskstore.StatusPending)

	r := c.RequestSingleTaskRun(ctx, other.ID)
	if r.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", r.StatusCode)
	}
	_ = active
}

func TestRequestSingleTaskRun_ConflictWhenTerminal(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	now := time.Now()
	task, _ := store.CreateTask(ctx, taskstore.Task{Title: "t", Prompt: "x"}, now, taskstore.StatusPending)
	store.UpdateStatus(ctx, task.ID, taskstore.StatusCompleted, now, "done", "")

	r := c.RequestSingleTaskRun(ctx, task.ID)
	if r.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", r.StatusCode)
	}
}

func TestRequestSingleTaskRun_IdempotentWhenAlreadyActive(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	now := time.Now()
	task, _ := store.CreateTask(ctx, taskstore.Task{Title: "t", Prompt: "x"}, now, taskstore.StatusPending)
	store.ClaimForExecution(ctx, now.Add(time.Second))

	r := c.RequestSingleTaskRun(ctx, task.ID)
	if r.StatusCode != 202 {
		t.Fatalf("expected 202, got %d", r.StatusCode)
	}
}

func TestRequestSingleTaskRun_NormalizesQueuedToPendingAtFront(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	now := time.Now()

	other, _ := store.CreateTask(ctx, taskstore.Task{Title: "other", Prompt: "x"}, now, taskstore.StatusPending)
	task, _ := store.CreateTask(ctx, taskstore.Task{Title: "t", Prompt: "y"}, now.Add(time.Second), taskstore.StatusPending)
	store.Enqueue(ctx, task.ID, now.Add(2*time.Second))

	r := c.RequestSingleTaskRun(ctx, task.ID)
	if r.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", r.StatusCode, r.Message)
	}
	if c.Mode() != ModeSingle {
		t.Fatalf("expected mode single, got %s", c.Mode())
	}

	tasks, _ := store.ListTasks(ctx, taskstore.Filter{})
	var got *taskstore.Task
	for i := range tasks {
		if tasks[i].ID == task.ID {
			got = &tasks[i]
		}
	}
	if got == nil {
		t.Fatal("task not found after request")
	}
	if got.Status != taskstore.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.QueueOrder >= other.QueueOrder {
		t.Fatalf("expected task spliced to front: task=%d other=%d", got.QueueOrder, other.QueueOrder)
	}
}

func TestOnTaskTerminal_RevertsToManualOnlyForSingleTask(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	now := time.Now()
	task, _ := store.CreateTask(ctx, taskstore.Task{Title: "t", Prompt: "x"}, now, taskstore.StatusPending)

	if c.OnTaskTerminal(task.ID) {
		t.Fatal("expected no-op before single mode was requested")
	}

	c.RequestSingleTaskRun(ctx, task.ID)
	if !c.OnTaskTerminal(task.ID) {
		t.Fatal("expected OnTaskTerminal to revert single mode")
	}
	if c.Mode() != ModeManual {
		t.Fatalf("expected manual mode after terminal, got %s", c.Mode())
	}
}

func TestShouldPromoteQueuedTasksOnTerminal(t *testing.T) {
	c, store := newTestController(t)
	ctx := context.Background()
	now := time.Now()
	task, _ := store.CreateTask(ctx, taskstore.Task{Title: "t", Prompt: "x"}, now, taskstore.StatusPending)

	c.SetModeAll()
	if !c.ShouldPromoteQueuedTasksOnTerminal("anything") {
		t.Error("expected promotion allowed in all mode")
	}
	c.SetModeManual()

	c.RequestSingleTaskRun(ctx, task.ID)
	if c.ShouldPromoteQueuedTasksOnTerminal(task.ID) {
		t.Error("expected no promotion for the pinned single task")
	}
}
