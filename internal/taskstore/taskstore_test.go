package taskstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/dbutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := dbutil.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateTask_AndListTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	task, err := s.CreateTask(ctx, Task{Title: "t1", Prompt: "do thing"}, now, StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if task.ID == "" {
		t.Fatal("expected generated id")
	}

	tasks, err := s.ListTasks(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("got %+v", tasks)
	}
}

func TestEnqueue_OnlyFromPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	task, _ := s.CreateTask(ctx, Task{Title: "t1", Prompt: "x"}, now, StatusPending)
	if err := s.Enqueue(ctx, task.ID, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	tasks, _ := s.ListTasks(ctx, Filter{Status: StatusQueued})
	if len(tasks) != 1 {
		t.Fatalf("expected 1 queued task, got %d", len(tasks))
	}

	if err := s.Enqueue(ctx, task.ID, now); err == nil {
		t.Fatal("expected error re-enqueuing a non-pending task")
	}
}

func TestClaimForExecution_OnlyOneActivePerWorkspace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	a, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x"}, now, StatusPending)
	b, _ := s.CreateTask(ctx, Task{Title: "b", Prompt: "y"}, now.Add(time.Second), StatusPending)
	_ = b

	claimed, ok, err := s.ClaimForExecution(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || claimed.ID != a.ID {
		t.Fatalf("expected to claim task a first, got %+v ok=%v", claimed, ok)
	}
	if claimed.Status != StatusPlanning {
		t.Fatalf("expected planning status, got %s", claimed.Status)
	}

	_, ok, err = s.ClaimForExecution(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no claim while another task is active")
	}
}

func TestClaimForExecution_NoneWhenEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, ok, err := s.ClaimForExecution(ctx, time.Unix(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no claim on empty store")
	}
}

func TestMarkPromptInjected_SetOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	task, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x"}, now, StatusPending)

	wrote1, err := s.MarkPromptInjected(ctx, task.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if !wrote1 {
		t.Fatal("expected first mark to write")
	}

	wrote2, err := s.MarkPromptInjected(ctx, task.ID, now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if wrote2 {
		t.Fatal("expected second mark to be a no-op")
	}
}

func TestUpdateStatus_TerminalIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	task, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x"}, now, StatusPending)

	if err := s.UpdateStatus(ctx, task.ID, StatusRunning, now, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(ctx, task.ID, StatusCompleted, now.Add(time.Second), "done", ""); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateStatus(ctx, task.ID, StatusFailed, now.Add(2*time.Second), "", "boom")
	if err == nil {
		t.Fatal("expected error transitioning out of a terminal status")
	}
	if !errors.Is(err, apperr.Storage) {
		t.Errorf("expected apperr.Storage, got %v", err)
	}
}

func TestSaveContext_WriteOncePerType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	task, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x"}, now, StatusPending)

	if err := s.SaveContext(ctx, task.ID, "plan", "step 1", now); err != nil {
		t.Fatal(err)
	}
	err := s.SaveContext(ctx, task.ID, "plan", "step 1 again", now.Add(time.Second))
	if err == nil {
		t.Fatal("expected error on second write of the same context type")
	}
}

func TestAddMessage_AndRetrieveViaListTasksUnaffected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)
	task, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x"}, now, StatusPending)

	if err := s.AddMessage(ctx, Message{TaskID: task.ID, Role: "assistant", Content: "hi"}, now); err != nil {
		t.Fatal(err)
	}
}

func TestGetActiveTaskId(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	id, err := s.GetActiveTaskId(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Fatalf("expected no active task, got %q", id)
	}

	task, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x"}, now, StatusPending)
	claimed, ok, err := s.ClaimForExecution(ctx, now.Add(time.Second))
	if err != nil || !ok {
		t.Fatalf("expected claim to succeed: %v %v", ok, err)
	}
	if claimed.ID != task.ID {
		t.Fatal("claimed wrong task")
	}

	id, err = s.GetActiveTaskId(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != task.ID {
		t.Fatalf("expected active task %q, got %q", task.ID, id)
	}
}

func TestRetryFailed_RequeuesAtFrontAndIncrementsCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	existing, _ := s.CreateTask(ctx, Task{Title: "existing", Prompt: "x"}, now, StatusQueued)
	failed, _ := s.CreateTask(ctx, Task{Title: "failed", Prompt: "y", MaxRetries: 1}, now.Add(time.Second), StatusPending)

	if err := s.UpdateStatus(ctx, failed.ID, StatusFailed, now.Add(2*time.Second), "", "boom"); err != nil {
		t.Fatal(err)
	}

	if err := s.RetryFailed(ctx, failed.ID, now.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.ListTasks(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	var retried, other *Task
	for i := range tasks {
		switch tasks[i].ID {
		case failed.ID:
			retried = &tasks[i]
		case existing.ID:
			other = &tasks[i]
		}
	}
	if retried == nil || other == nil {
		t.Fatal("expected both tasks present")
	}
	if retried.Status != StatusPending {
		t.Fatalf("expected retried task pending, got %s", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", retried.RetryCount)
	}
	if retried.QueueOrder >= other.QueueOrder {
		t.Fatalf("expected retried task at front of queue: retried=%d other=%d", retried.QueueOrder, other.QueueOrder)
	}
}

func TestRetryFailed_ExhaustedBudgetFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	task, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x", MaxRetries: 0}, now, StatusPending)
	if err := s.UpdateStatus(ctx, task.ID, StatusFailed, now.Add(time.Second), "", "boom"); err != nil {
		t.Fatal(err)
	}

	err := s.RetryFailed(ctx, task.ID, now.Add(2*time.Second))
	if err == nil {
		t.Fatal("expected error when retry budget exhausted")
	}
	if !errors.Is(err, apperr.Input) {
		t.Errorf("expected apperr.Input, got %v", err)
	}
}

func TestListTasks_FilterByStatusAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	for i := 0; i < 3; i++ {
		s.CreateTask(ctx, Task{Title: "pending", Prompt: "x"}, now.Add(time.Duration(i)*time.Second), StatusPending)
	}
	s.CreateTask(ctx, Task{Title: "done", Prompt: "y"}, now.Add(10*time.Second), StatusCompleted)

	pending, err := s.ListTasks(ctx, Filter{Status: StatusPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}

	limited, err := s.ListTasks(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 with limit, got %d", len(limited))
	}
}

func TestDequeueNextQueuedTask_PromotesLowestQueueOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	a, _ := s.CreateTask(ctx, Task{Title: "a", Prompt: "x"}, now, StatusPending)
	b, _ := s.CreateTask(ctx, Task{Title: "b", Prompt: "y"}, now.Add(time.Second), StatusPending)
	s.Enqueue(ctx, a.ID, now.Add(2*time.Second))
	s.Enqueue(ctx, b.ID, now.Add(3*time.Second))

	dequeued, ok, err := s.DequeueNextQueuedTask(ctx, now.Add(4*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || dequeued.ID != a.ID {
		t.Fatalf("expected to dequeue a (enqueued first), got %+v", dequeued)
	}
	if dequeued.Status != StatusPending {
		t.Fatalf("expected pending after dequeue, got %s", dequeued.Status)
	}
}

func TestDequeueNextQueuedTask_BlockedByActiveTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	active, _ := s.CreateTask(ctx, Task{Title: "active", Prompt: "x"}, now, StatusPending)
	s.ClaimForExecution(ctx, now.Add(time.Second))

	queued, _ := s.CreateTask(ctx, Task{Title: "queued", Prompt: "y"}, now.Add(2*time.Second), StatusPending)
	s.Enqueue(ctx, queued.ID, now.Add(3*time.Second))

	_, ok, err := s.DequeueNextQueuedTask(ctx, now.Add(4*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected dequeue to be blocked while a task is active")
	}
	_ = active
}
