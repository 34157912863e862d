// Package runcontrol implements the Run Controller: the manual/all/single
// execution modes layered on top of the Task Queue worker and Task Store.
package runcontrol

import (
	"context"
	"sync"
	"time"

	"github.com/andy963/ads/internal/taskqueue"
	"github.com/andy963/ads/internal/taskstore"
)

// Mode is the queue's run mode.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAll    Mode = "all"
	ModeSingle Mode = "single"
)

// Result is the outcome of RequestSingleTaskRun, carrying an HTTP-shaped
// status code so the HTTP API layer can translate it directly without
// re-deriving the reason from an error string.
type Result struct {
	StatusCode int
	Message    string
}

// Controller mediates between the Run Controller's mode and a Worker/Store
// pair for one workspace.
type Controller struct {
	store  *taskstore.Store
	worker *taskqueue.Worker

	mu           sync.Mutex
	mode         Mode
	singleTaskID string
}

// New creates a Controller starting in manual mode (the queue paused,
// matching a freshly started worker).
func New(store *taskstore.Store, worker *taskqueue.Worker) *Controller {
	return &Controller{store: store, worker: worker, mode: ModeManual}
}

// Mode returns the controller's current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetModeAll switches to all mode and resumes the worker, which then claims
// pending tasks in queue order. Tasks in queued status are not moved to
// pending by this call or by the worker.
func (c *Controller) SetModeAll() {
	c.mu.Lock()
	c.mode = ModeAll
	c.singleTaskID = ""
	c.mu.Unlock()
	c.worker.Resume()
}

// SetModeManual pauses the queue; no further promotions occur until the
// mode changes again.
func (c *Controller) SetModeManual() {
	c.mu.Lock()
	c.mode = ModeManual
	c.singleTaskID = ""
	c.mu.Unlock()
	c.worker.Pause()
}

// RequestSingleTaskRun asks the queue to run exactly one task, regardless
// of its position, pausing promotion of any other task until it reaches a
// terminal state.
func (c *Controller) RequestSingleTaskRun(ctx context.Context, taskID string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	tasks, err := c.store.ListTasks(ctx, taskstore.Filter{})
	if err != nil {
		return Result{StatusCode: 500, Message: err.Error()}
	}
	var task *taskstore.Task
	for i := range tasks {
		if tasks[i].ID == taskID {
			task = &tasks[i]
			break
		}
	}
	if task == nil {
		return Result{StatusCode: 404, Message: "task not found"}
	}
	if c.mode == ModeAll {
		return Result{StatusCode: 409, Message: "queue is running in all mode"}
	}

	activeID, err := c.store.GetActiveTaskId(ctx)
	if err != nil {
		return Result{StatusCode: 500, Message: err.Error()}
	}
	if activeID != "" && activeID != taskID {
		return Result{StatusCode: 409, Message: "another task is active"}
	}
	if isTerminal(task.Status) {
		return Result{StatusCode: 409, Message: "task is already in a terminal status"}
	}
	if activeID == taskID {
		return Result{StatusCode: 202, Message: "task is already active"}
	}

	now := time.Now()
	front, err := c.frontOfQueueLocked(ctx)
	if err != nil {
		return Result{StatusCode: 500, Message: err.Error()}
	}
	if err := c.store.SetQueueOrder(ctx, taskID, front-1); err != nil {
		return Result{StatusCode: 500, Message: err.Error()}
	}
	if task.Status == taskstore.StatusQueued || task.Status == taskstore.StatusPaused {
		if err := c.store.UpdateStatus(ctx, taskID, taskstore.StatusPending, now, "", ""); err != nil {
			return Result{StatusCode: 500, Message: err.Error()}
		}
	}

	c.mode = ModeSingle
	c.singleTaskID = taskID
	c.worker.Resume()
	c.worker.NotifyNewTask()

	_ = c.store.AddMessage(ctx, taskstore.Message{
		TaskID:  taskID,
		Role:    "system",
		Content: "single-task run requested",
	}, now)

	return Result{StatusCode: 200, Message: "single-task run started"}
}

// OnTaskTerminal is called by the Task Queue worker whenever a task
// reaches a terminal status. If the controller is in single mode for
// exactly this task, it reverts to manual mode and reports true so the
// caller knows the queue was stopped.
func (c *Controller) OnTaskTerminal(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeSingle && c.singleTaskID == taskID {
		c.mode = ModeManual
		c.singleTaskID = ""
		c.worker.Pause()
		return true
	}
	return false
}

// ShouldPromoteQueuedTasksOnTerminal reports whether the queue should
// promote other queued tasks when taskID reaches a terminal state. In
// single mode, the task being run is pinned and no other promotions
// happen.
func (c *Controller) ShouldPromoteQueuedTasksOnTerminal(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeSingle && c.singleTaskID == taskID {
		return false
	}
	return c.mode == ModeAll
}

func (c *Controller) frontOfQueueLocked(ctx context.Context) (int64, error) {
	tasks, err := c.store.ListTasks(ctx, taskstore.Filter{})
	if err != nil {
		return 0, err
	}
	var min int64
	first := true
	for _, t := range tasks {
		if first || t.QueueOrder < min {
			min = t.QueueOrder
			first = false
		}
	}
	return min, nil
}

func isTerminal(s taskstore.Status) bool {
	switch s {
	case taskstore.StatusCompleted, taskstore.StatusFailed, taskstore.StatusCancelled:
		return true
	default:
		return false
	}
}
