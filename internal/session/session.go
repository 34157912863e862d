// Package session implements the Session Manager: a per-user cache of
// {cwd, agent_id, orchestrator, saved thread ids}, generalizing the
// teacher's sessions.Manager (a GetOrCreate-keyed map guarded by a mutex)
// from a flat message buffer to an owned Orchestrator plus thread-id
// rehydration through threadstore.
package session

import (
	"context"
	"sync"

	"github.com/andy963/ads/internal/agentadapter"
	"github.com/andy963/ads/internal/bus"
	"github.com/andy963/ads/internal/config"
	"github.com/andy963/ads/internal/orchestrator"
	"github.com/andy963/ads/internal/threadstore"
)

// Entry is one user's cached session state.
type Entry struct {
	UserID          string
	Cwd             string
	AgentID         string
	Orchestrator    *orchestrator.Orchestrator
	SavedCwd        string
	SavedThreadIDs  map[string]string
	StatefulByAgent map[string]bool
}

// IsStateful reports whether agentID was configured with stateful:true,
// for wiring into an agenthub.StatefulChecker.
func (e *Entry) IsStateful(agentID string) bool {
	return e.StatefulByAgent[agentID]
}

// ResetOptions configures Reset.
type ResetOptions struct {
	// PreserveThreadForResume keeps the adapters' thread ids persisted in
	// threadstore (if any were stateful) so a later /resume can rehydrate
	// them. When false, the in-memory orchestrator is simply dropped.
	PreserveThreadForResume bool
}

// Manager is the per-user session cache.
type Manager struct {
	cfg     *config.Config
	threads *threadstore.Store
	events  bus.EventPublisher

	mu      sync.Mutex
	entries map[string]*Entry
	unsubs  map[string]agentadapter.Unsubscribe
}

// NewManager creates an empty Manager. events may be nil (no broadcast).
func NewManager(cfg *config.Config, threads *threadstore.Store, events bus.EventPublisher) *Manager {
	return &Manager{
		cfg:     cfg,
		threads: threads,
		events:  events,
		entries: make(map[string]*Entry),
		unsubs:  make(map[string]agentadapter.Unsubscribe),
	}
}

// GetOrCreate returns userID's cached entry if its cwd is unchanged, or
// builds a fresh Orchestrator bound to cwd otherwise. When resumeThread is
// true and a saved thread id exists for the active agent, it is handed to
// that agent's adapter before the entry is returned.
func (m *Manager) GetOrCreate(ctx context.Context, userID, cwd string, resumeThread bool) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[userID]; ok && e.Cwd == cwd {
		return e, nil
	}

	savedThreadIDs := map[string]string{}
	if m.threads != nil {
		ids, err := m.threads.GetThreadIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		savedThreadIDs = ids
	}

	orch := orchestrator.New()
	activeID, statefulByAgent := m.buildAdapters(orch, cwd)

	if resumeThread {
		if threadID, ok := savedThreadIDs[activeID]; ok && threadID != "" {
			if adapter, found := adapterByID(orch, activeID); found {
				adapter.SetThreadID(threadID)
			}
		}
	}

	m.subscribeLocked(userID, orch)

	e := &Entry{
		UserID:          userID,
		Cwd:             cwd,
		AgentID:         activeID,
		Orchestrator:    orch,
		SavedCwd:        cwd,
		SavedThreadIDs:  savedThreadIDs,
		StatefulByAgent: statefulByAgent,
	}
	m.entries[userID] = e
	return e, nil
}

// buildAdapters registers one adapter per configured agent spec, bound to
// cwd, and returns the active agent id plus a map of which agent ids were
// configured stateful:true.
func (m *Manager) buildAdapters(orch *orchestrator.Orchestrator, cwd string) (string, map[string]bool) {
	agentsCfg := m.cfg.AgentsSnapshot()
	if len(agentsCfg.List) == 0 {
		adapter := agentadapter.NewMockAdapter("default", false)
		adapter.SetWorkingDirectory(cwd)
		orch.Register("default", adapter)
		return "default", map[string]bool{"default": false}
	}

	stateful := make(map[string]bool, len(agentsCfg.List))
	for id, spec := range agentsCfg.List {
		adapter := agentadapter.NewMockAdapter(id, spec.Stateful)
		adapter.SetWorkingDirectory(cwd)
		if spec.Model != "" {
			adapter.SetModel(spec.Model)
		}
		orch.Register(id, adapter)
		stateful[id] = spec.Stateful
	}

	active := agentsCfg.ActiveAgentID
	if active == "" || !orch.HasAgent(active) {
		active = orch.GetActiveAgentID()
	} else {
		_ = orch.SwitchAgent(active)
	}
	return active, stateful
}

// subscribeLocked wires the orchestrator's fanned-out adapter events to the
// event bus under a per-user subscription key, replacing any prior one.
func (m *Manager) subscribeLocked(userID string, orch *orchestrator.Orchestrator) {
	if prev, ok := m.unsubs[userID]; ok {
		prev()
		delete(m.unsubs, userID)
	}
	if m.events == nil {
		return
	}
	unsub := orch.OnEvent(func(ev agentadapter.AgentEvent) {
		m.events.Broadcast(bus.Event{
			Name: "agent:" + string(ev.Phase),
			Payload: map[string]any{
				"user_id": userID,
				"title":   ev.Title,
				"detail":  ev.Detail,
			},
		})
	})
	m.unsubs[userID] = unsub
}

// Reset drops userID's in-memory orchestrator. If opts.PreserveThreadForResume
// is set, every stateful adapter's current thread id is persisted to
// threadstore first so a later GetOrCreate(resumeThread=true) can rehydrate
// it; otherwise the adapters (and any thread state they held in-process)
// are simply discarded.
func (m *Manager) Reset(ctx context.Context, userID string, opts ResetOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[userID]
	if !ok {
		return nil
	}

	if opts.PreserveThreadForResume && m.threads != nil {
		ids := map[string]string{}
		for _, meta := range e.Orchestrator.ListAgents() {
			if adapter, found := adapterByID(e.Orchestrator, meta.ID); found {
				if threadID, ok := adapter.GetThreadID(); ok {
					ids[meta.ID] = threadID
				}
			}
		}
		if len(ids) > 0 {
			if err := m.threads.SetThreadIDs(ctx, userID, ids); err != nil {
				return err
			}
		}
	}

	if unsub, ok := m.unsubs[userID]; ok {
		unsub()
		delete(m.unsubs, userID)
	}
	delete(m.entries, userID)
	return nil
}

func adapterByID(orch *orchestrator.Orchestrator, id string) (agentadapter.AgentAdapter, bool) {
	return orch.Adapter(id)
}
