package httpapi

import (
	"errors"
	"sync"

	"github.com/andy963/ads/internal/runcontrol"
	"github.com/andy963/ads/internal/taskqueue"
	"github.com/andy963/ads/internal/taskstore"
)

// ErrUnknownProject is returned by Runtimes.Get for a project id with no
// registered runtime (not yet started, or deleted).
var ErrUnknownProject = errors.New("unknown project")

// ProjectRuntime bundles one project's per-workspace Task Store, Task Queue
// worker, and Run Controller — the three components a task/queue endpoint
// needs, already wired together by whatever owns process startup (cmd/).
type ProjectRuntime struct {
	Tasks   *taskstore.Store
	Queue   *taskqueue.Worker
	Control *runcontrol.Controller
}

// Runtimes is a concurrency-safe registry mapping project id to its
// ProjectRuntime, populated as projects are created/loaded at startup.
type Runtimes struct {
	mu   sync.RWMutex
	byID map[string]*ProjectRuntime
}

// NewRuntimes creates an empty registry.
func NewRuntimes() *Runtimes {
	return &Runtimes{byID: make(map[string]*ProjectRuntime)}
}

// Register binds projectID to runtime, replacing any existing binding.
func (r *Runtimes) Register(projectID string, runtime *ProjectRuntime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[projectID] = runtime
}

// Unregister removes projectID's binding, if any.
func (r *Runtimes) Unregister(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, projectID)
}

// Get returns projectID's runtime, or ErrUnknownProject.
func (r *Runtimes) Get(projectID string) (*ProjectRuntime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.byID[projectID]
	if !ok {
		return nil, ErrUnknownProject
	}
	return rt, nil
}
