package agentadapter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/andy963/ads/internal/apperr"
)

// MockAdapter is the module's only concrete AgentAdapter: a deterministic,
// in-process stand-in for an out-of-scope vendor SDK. It echoes its trimmed
// input back behind a "[mock:ID cwd=... model=...]" prefix (to make test
// assertions unambiguous) and emits the full event-phase sequence a real adapter would.
//
// Stateful mode remembers a thread id across calls (assigned on first
// Send); stateless mode returns ok=false from GetThreadID always.
type MockAdapter struct {
	id, name, vendor string
	stateful         bool

	mu          sync.Mutex
	cwd         string
	model       string
	threadID    string
	hasThread   bool
	handlers    map[int]EventHandler
	nextHandler int
}

// NewMockAdapter returns a MockAdapter identified by id, optionally stateful.
func NewMockAdapter(id string, stateful bool) *MockAdapter {
	return &MockAdapter{
		id:       id,
		name:     id,
		vendor:   "mock",
		stateful: stateful,
		handlers: make(map[int]EventHandler),
	}
}

func (m *MockAdapter) Metadata() Metadata {
	return Metadata{ID: m.id, Name: m.name, Vendor: m.vendor, Capabilities: []string{"echo"}}
}

func (m *MockAdapter) Status() Status {
	return Status{Ready: true}
}

func (m *MockAdapter) SetWorkingDirectory(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cwd = path
}

func (m *MockAdapter) SetModel(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = modelID
}

func (m *MockAdapter) GetThreadID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stateful || !m.hasThread {
		return "", false
	}
	return m.threadID, true
}

func (m *MockAdapter) SetThreadID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stateful || id == "" {
		return
	}
	m.threadID = id
	m.hasThread = true
}

func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadID = ""
	m.hasThread = false
}

func (m *MockAdapter) Send(ctx context.Context, input string, opts SendOptions) (SendResult, error) {
	if err := ctx.Err(); err != nil {
		return SendResult{}, apperr.WrapErr(apperr.Abort, err)
	}

	m.emit(AgentEvent{Phase: PhaseBoot, Title: "starting turn"})
	m.emit(AgentEvent{Phase: PhaseConnection, Title: "connected to " + m.vendor})

	if err := ctx.Err(); err != nil {
		m.emit(AgentEvent{Phase: PhaseError, Title: "cancelled"})
		return SendResult{}, apperr.WrapErr(apperr.Abort, err)
	}

	m.emit(AgentEvent{Phase: PhaseAnalysis, Title: "analyzing input"})

	m.mu.Lock()
	if m.stateful && !m.hasThread {
		m.threadID = uuid.NewString()
		m.hasThread = true
	}
	cwd := m.cwd
	model := m.model
	m.mu.Unlock()

	m.emit(AgentEvent{Phase: PhaseResponding, Title: "composing response"})

	response := fmt.Sprintf("[mock:%s cwd=%s model=%s] %s", m.id, cwd, model, strings.TrimSpace(input))

	m.emit(AgentEvent{Phase: PhaseCompleted, Title: "turn complete"})

	return SendResult{
		Response: response,
		Usage: &Usage{
			PromptTokens:     len(input),
			CompletionTokens: len(response),
			TotalTokens:      len(input) + len(response),
		},
		AgentID: m.id,
	}, nil
}

func (m *MockAdapter) OnEvent(handler EventHandler) Unsubscribe {
	m.mu.Lock()
	id := m.nextHandler
	m.nextHandler++
	m.handlers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

func (m *MockAdapter) emit(ev AgentEvent) {
	m.mu.Lock()
	handlers := make([]EventHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}
