// Package taskqueue implements the Task Queue worker: a per-workspace loop
// that claims one Task at a time, runs it through an Agent Hub turn inside
// a workspace-lock critical section, and streams lifecycle events onto a
// bus.EventPublisher the way the teacher's agent.Loop streams run.* events.
package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/andy963/ads/internal/apperr"
	"github.com/andy963/ads/internal/bus"
	"github.com/andy963/ads/internal/metrics"
	"github.com/andy963/ads/internal/taskstore"
	"github.com/andy963/ads/internal/wslock"
)

// State is the worker loop's run state.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Event names broadcast on the bus, matching the spec's event vocabulary.
const (
	EventTaskStarted   = "task:started"
	EventTaskRunning   = "task:running"
	EventMessage       = "message"
	EventMessageDelta  = "message:delta"
	EventCommand       = "command"
	EventTaskCompleted = "task:completed"
	EventTaskFailed    = "task:failed"
	EventTaskCancelled = "task:cancelled"
)

// HubResult is the subset of agenthub.HubResult the queue cares about —
// kept as a narrow struct (rather than importing agenthub directly) so a
// test double can stand in for a real Hub without wiring an Orchestrator.
type HubResult struct {
	Response string
	Usage    any
}

// HubRunner runs one collaborative turn. *agenthub.Hub satisfies this via
// its Run method (HubResult fields are a structural subset).
type HubRunner interface {
	Run(ctx context.Context, input string) (HubResult, error)
}

// OrchestratorResolver resolves the HubRunner a task should execute
// against — a fresh thread per task unless task.InheritContext is set, the
// spec's "getOrchestrator(task)" step.
type OrchestratorResolver interface {
	Resolve(ctx context.Context, task taskstore.Task) (HubRunner, error)
}

// ArtifactCollector records the two terminal-event artifacts: the set of
// paths changed since task start, and a unified diff for those paths.
type ArtifactCollector interface {
	ChangedPaths(ctx context.Context, workspaceRoot string, since time.Time) ([]string, error)
	WorkspacePatch(ctx context.Context, workspaceRoot string, paths []string) (string, error)
}

// Options configures a Worker.
type Options struct {
	PollInterval    time.Duration // fallback poll when no notification arrives
	RetryBackoffMs  int           // base backoff; actual wait is RetryBackoffMs*(retryCount+1)
	WorkspaceRoot   string
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.RetryBackoffMs <= 0 {
		o.RetryBackoffMs = 1000
	}
	return o
}

// Worker is the per-workspace Task Queue worker loop.
type Worker struct {
	store     *taskstore.Store
	resolver  OrchestratorResolver
	events    bus.EventPublisher
	artifacts ArtifactCollector
	locks     *wslock.Pool
	opts      Options

	mu     sync.Mutex
	state  State
	notify chan struct{}
}

// New creates a stopped Worker.
func New(store *taskstore.Store, resolver OrchestratorResolver, events bus.EventPublisher, artifacts ArtifactCollector, locks *wslock.Pool, opts Options) *Worker {
	return &Worker{
		store:     store,
		resolver:  resolver,
		events:    events,
		artifacts: artifacts,
		locks:     locks,
		opts:      opts.withDefaults(),
		state:     StateStopped,
		notify:    make(chan struct{}, 1),
	}
}

// State returns the worker's current run state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Pause transitions running or stopped -> paused, so pausing before Run is
// ever called sticks once the loop starts. No-op if already paused.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaused {
		w.state = StatePaused
	}
}

// Resume transitions paused -> running and wakes the loop.
func (w *Worker) Resume() {
	w.mu.Lock()
	if w.state == StatePaused || w.state == StateStopped {
		w.state = StateRunning
	}
	w.mu.Unlock()
	w.NotifyNewTask()
}

// NotifyNewTask wakes the loop immediately instead of waiting for the next
// poll tick — called after Enqueue/ClaimForExecution-relevant writes.
func (w *Worker) NotifyNewTask() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run drives the worker loop until ctx is cancelled. Intended to be run in
// its own goroutine, one per workspace.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	if w.state == StateStopped {
		w.state = StateRunning
	}
	w.mu.Unlock()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.state = StateStopped
			w.mu.Unlock()
			return
		case <-w.notify:
		case <-ticker.C:
		}

		if w.State() != StateRunning {
			continue
		}

		task, ok, err := w.store.ClaimForExecution(ctx, time.Now())
		if err != nil || !ok {
			continue
		}

		w.runTask(ctx, task)
		w.NotifyNewTask() // there may be another pending task waiting behind this one
	}
}

func (w *Worker) runTask(ctx context.Context, task taskstore.Task) {
	now := time.Now()
	startedAt := now

	hub, err := w.resolver.Resolve(ctx, task)
	if err != nil {
		w.finishFailed(ctx, task, err)
		return
	}

	if _, err := w.store.MarkPromptInjected(ctx, task.ID, now); err != nil {
		w.finishFailed(ctx, task, err)
		return
	}

	if task.Prompt == "" {
		metrics.Inc("INJECTION_SKIPPED", "empty_prompt")
		w.broadcast(EventTaskStarted, task.ID, map[string]string{"placeholder": "true"})
	} else {
		w.broadcast(EventTaskStarted, task.ID, nil)
	}
	if err := w.store.UpdateStatus(ctx, task.ID, taskstore.StatusRunning, now, "", ""); err != nil {
		w.finishFailed(ctx, task, err)
		return
	}
	w.broadcast(EventTaskRunning, task.ID, nil)

	var result HubResult
	err = w.locks.WithLock(ctx, w.opts.WorkspaceRoot, func(ctx context.Context) error {
		var runErr error
		result, runErr = hub.Run(ctx, task.Prompt)
		return runErr
	})

	switch {
	case err == nil:
		w.finishCompleted(ctx, task, result, startedAt)
	case errors.Is(err, apperr.Abort):
		w.finishCancelled(ctx, task)
	default:
		w.finishOrRetry(ctx, task, err)
	}
}

func (w *Worker) finishCompleted(ctx context.Context, task taskstore.Task, result HubResult, startedAt time.Time) {
	now := time.Now()
	if err := w.store.UpdateStatus(ctx, task.ID, taskstore.StatusCompleted, now, result.Response, ""); err != nil {
		w.broadcast(EventTaskFailed, task.ID, map[string]string{"error": err.Error()})
		return
	}
	w.recordArtifacts(ctx, task, startedAt)
	w.broadcast(EventTaskCompleted, task.ID, map[string]string{"result": result.Response})
}

func (w *Worker) finishCancelled(ctx context.Context, task taskstore.Task) {
	now := time.Now()
	_ = w.store.UpdateStatus(ctx, task.ID, taskstore.StatusCancelled, now, "", "aborted")
	w.broadcast(EventTaskCancelled, task.ID, nil)
}

func (w *Worker) finishOrRetry(ctx context.Context, task taskstore.Task, taskErr error) {
	if task.RetryCount < task.MaxRetries {
		backoff := time.Duration(w.opts.RetryBackoffMs*(task.RetryCount+1)) * time.Millisecond
		go func() {
			time.Sleep(backoff)
			_ = w.store.RetryFailed(context.Background(), task.ID, time.Now())
			w.NotifyNewTask()
		}()
		return
	}
	w.finishFailed(ctx, task, taskErr)
}

func (w *Worker) finishFailed(ctx context.Context, task taskstore.Task, taskErr error) {
	now := time.Now()
	_ = w.store.UpdateStatus(ctx, task.ID, taskstore.StatusFailed, now, "", taskErr.Error())
	w.broadcast(EventTaskFailed, task.ID, map[string]string{"error": taskErr.Error()})
}

func (w *Worker) recordArtifacts(ctx context.Context, task taskstore.Task, since time.Time) {
	if w.artifacts == nil {
		return
	}
	paths, err := w.artifacts.ChangedPaths(ctx, w.opts.WorkspaceRoot, since)
	if err != nil || len(paths) == 0 {
		reason := "no_changed_paths_recorded"
		if err != nil {
			reason = err.Error()
		}
		_ = w.store.SaveContext(ctx, task.ID, "artifact:changed_paths", "", time.Now())
		_ = w.store.SaveContext(ctx, task.ID, "artifact:workspace_patch", reason, time.Now())
		return
	}
	_ = w.store.SaveContext(ctx, task.ID, "artifact:changed_paths", joinPaths(paths), time.Now())

	patch, err := w.artifacts.WorkspacePatch(ctx, w.opts.WorkspaceRoot, paths)
	if err != nil || patch == "" {
		patch = "patch_not_available"
	}
	_ = w.store.SaveContext(ctx, task.ID, "artifact:workspace_patch", patch, time.Now())
}

func (w *Worker) broadcast(name, taskID string, extra map[string]string) {
	if w.events == nil {
		return
	}
	payload := map[string]string{"task_id": taskID}
	for k, v := range extra {
		payload[k] = v
	}
	w.events.Broadcast(bus.Event{Name: name, Payload: payload})
}

func joinPaths(paths []string) string {
	out := ""
	for i, p := range paths {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
