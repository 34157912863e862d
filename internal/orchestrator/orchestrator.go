// Package orchestrator holds a workspace's agent adapters and dispatches
// turns to them, generalizing the teacher's single-provider agent.Loop into
// a map of adapters keyed by agent id (mirroring the teacher's managed-mode
// agent.Router holding multiple Loops).
package orchestrator

import (
	"context"
	"sync"

	"github.com/andy963/ads/internal/agentadapter"
	"github.com/andy963/ads/internal/apperr"
)

// AdapterResult is returned from InvokeAgent.
type AdapterResult = agentadapter.SendResult

// Orchestrator holds agent_id -> AgentAdapter and tracks the active agent.
type Orchestrator struct {
	mu       sync.RWMutex
	adapters map[string]agentadapter.AgentAdapter
	activeID string

	handlersMu sync.Mutex
	handlers   map[int]agentadapter.EventHandler
	nextHandle int
	unsubs     map[string]agentadapter.Unsubscribe
}

// New creates an Orchestrator with no adapters registered.
func New() *Orchestrator {
	return &Orchestrator{
		adapters: make(map[string]agentadapter.AgentAdapter),
		handlers: make(map[int]agentadapter.EventHandler),
		unsubs:   make(map[string]agentadapter.Unsubscribe),
	}
}

// Register adds an adapter under id. If no active agent is set yet, id
// becomes active.
func (o *Orchestrator) Register(id string, adapter agentadapter.AgentAdapter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.adapters[id] = adapter
	if o.activeID == "" {
		o.activeID = id
	}
	o.handlersMu.Lock()
	o.unsubs[id] = adapter.OnEvent(o.fanOut)
	o.handlersMu.Unlock()
}

func (o *Orchestrator) fanOut(ev agentadapter.AgentEvent) {
	o.handlersMu.Lock()
	handlers := make([]agentadapter.EventHandler, 0, len(o.handlers))
	for _, h := range o.handlers {
		handlers = append(handlers, h)
	}
	o.handlersMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Adapter returns the adapter registered under id.
func (o *Orchestrator) Adapter(id string) (agentadapter.AgentAdapter, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.adapters[id]
	return a, ok
}

// HasAgent reports whether id is registered.
func (o *Orchestrator) HasAgent(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.adapters[id]
	return ok
}

// ListAgents returns every registered adapter's Metadata.
func (o *Orchestrator) ListAgents() []agentadapter.Metadata {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]agentadapter.Metadata, 0, len(o.adapters))
	for _, a := range o.adapters {
		out = append(out, a.Metadata())
	}
	return out
}

// GetActiveAgentID returns the currently active agent id.
func (o *Orchestrator) GetActiveAgentID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.activeID
}

// SwitchAgent makes id the active agent; fails if id is not registered.
func (o *Orchestrator) SwitchAgent(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.adapters[id]; !ok {
		return apperr.Wrap(apperr.Input, "unknown agent %q", id)
	}
	o.activeID = id
	return nil
}

// OnEvent multiplexes every registered adapter's events through one handler.
func (o *Orchestrator) OnEvent(handler agentadapter.EventHandler) agentadapter.Unsubscribe {
	o.handlersMu.Lock()
	id := o.nextHandle
	o.nextHandle++
	o.handlers[id] = handler
	o.handlersMu.Unlock()

	return func() {
		o.handlersMu.Lock()
		delete(o.handlers, id)
		o.handlersMu.Unlock()
	}
}

// InvokeAgent routes a turn to adapter id (or the active agent when id is
// empty).
func (o *Orchestrator) InvokeAgent(ctx context.Context, id, input string, opts agentadapter.SendOptions) (AdapterResult, error) {
	o.mu.RLock()
	if id == "" {
		id = o.activeID
	}
	adapter, ok := o.adapters[id]
	o.mu.RUnlock()

	if !ok {
		return AdapterResult{}, apperr.Wrap(apperr.Input, "unknown agent %q", id)
	}
	return adapter.Send(ctx, input, opts)
}
