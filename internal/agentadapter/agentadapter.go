// Package agentadapter defines the uniform AgentAdapter contract that the
// Orchestrator and Agent Hub drive, independent of which vendor backend
// (or, in this module, the in-process mock) answers it.
package agentadapter

import (
	"context"
)

// Phase enumerates the lifecycle stages an AgentEvent can report.
type Phase string

const (
	PhaseBoot       Phase = "boot"
	PhaseConnection Phase = "connection"
	PhaseAnalysis   Phase = "analysis"
	PhaseCommand    Phase = "command"
	PhaseEditing    Phase = "editing"
	PhaseTool       Phase = "tool"
	PhaseResponding Phase = "responding"
	PhaseCompleted  Phase = "completed"
	PhaseError      Phase = "error"
)

// Metadata identifies an adapter and what it can do.
type Metadata struct {
	ID           string
	Name         string
	Vendor       string
	Capabilities []string
}

// Status reports an adapter's current readiness.
type Status struct {
	Ready     bool
	Streaming bool
	Err       error
}

// AgentEvent is delivered to subscribers registered via OnEvent.
type AgentEvent struct {
	Phase  Phase
	Title  string
	Detail string
	Raw    any
}

// EventHandler receives AgentEvents as they occur during a Send call.
type EventHandler func(AgentEvent)

// SendOptions configures a single Send invocation.
type SendOptions struct {
	OutputSchema any
	Streaming    bool
	ToolContext  any
	ToolHooks    any
}

// SendResult is the outcome of a Send call.
type SendResult struct {
	Response string
	Usage    *Usage
	AgentID  string
}

// Usage tracks token consumption, mirroring the teacher's providers.Usage
// shape so a real vendor adapter can populate it directly.
type Usage struct {
	PromptTokens        int
	CompletionTokens     int
	TotalTokens          int
	CacheCreationTokens int
	CacheReadTokens      int
}

// Unsubscribe removes a previously registered event handler.
type Unsubscribe func()

// AgentAdapter is the uniform contract the Orchestrator and Agent Hub drive.
// Adapters MAY be stateful (remember a vendor-side thread id) or stateless
// (every Send is a fresh turn) — callers must not assume either.
type AgentAdapter interface {
	Metadata() Metadata
	Status() Status

	SetWorkingDirectory(path string)
	SetModel(modelID string)
	GetThreadID() (string, bool)
	// SetThreadID primes a stateful adapter to resume an existing thread
	// instead of starting a fresh one on the next Send. Stateless adapters
	// ignore it.
	SetThreadID(id string)
	Reset()

	// Send runs one turn. ctx carries cancellation (the spec's `signal`);
	// an aborted ctx must surface as an apperr.Abort-kind error and any
	// partial output is discarded by the caller, not returned here.
	Send(ctx context.Context, input string, opts SendOptions) (SendResult, error)

	// OnEvent registers handler for the lifetime of the adapter (not just
	// one Send call) and returns a function to unsubscribe it.
	OnEvent(handler EventHandler) Unsubscribe
}
