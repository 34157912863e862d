package agenthub

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/andy963/ads/internal/agentadapter"
	"github.com/andy963/ads/internal/orchestrator"
	"github.com/andy963/ads/internal/toolsreg"
)

// scriptedAdapter returns a scripted sequence of responses, one per call,
// repeating the last once exhausted. It lets tests drive multi-round
// tool/delegation loops deterministically without reimplementing MockAdapter.
type scriptedAdapter struct {
	id        string
	responses []string
	calls     int32
}

func (s *scriptedAdapter) Metadata() agentadapter.Metadata {
	return agentadapter.Metadata{ID: s.id, Name: s.id, Vendor: "scripted"}
}
func (s *scriptedAdapter) Status() agentadapter.Status { return agentadapter.Status{Ready: true} }
func (s *scriptedAdapter) SetWorkingDirectory(string)  {}
func (s *scriptedAdapter) SetModel(string)             {}
func (s *scriptedAdapter) GetThreadID() (string, bool) { return "", false }
func (s *scriptedAdapter) SetThreadID(string)          {}
func (s *scriptedAdapter) Reset()                      {}
func (s *scriptedAdapter) Send(ctx context.Context, input string, opts agentadapter.SendOptions) (agentadapter.SendResult, error) {
	idx := int(atomic.AddInt32(&s.calls, 1)) - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return agentadapter.SendResult{Response: s.responses[idx], AgentID: s.id}, nil
}
func (s *scriptedAdapter) OnEvent(h agentadapter.EventHandler) agentadapter.Unsubscribe {
	return func() {}
}

func TestRun_NoToolBlocksReturnsImmediately(t *testing.T) {
	o := orchestrator.New()
	o.Register("primary", &scriptedAdapter{id: "primary", responses: []string{"hello there"}})
	hub := New(o, toolsreg.NewRegistry(), nil)

	res, err := hub.Run(context.Background(), "hi", Options{ToolContext: &toolsreg.ToolContext{}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != "hello there" {
		t.Errorf("Response = %q", res.Response)
	}
	if res.SupervisorRounds != 0 {
		t.Errorf("SupervisorRounds = %d, want 0", res.SupervisorRounds)
	}
}

func TestRun_ToolLoopExecutesAndFeedsBack(t *testing.T) {
	o := orchestrator.New()
	o.Register("primary", &scriptedAdapter{
		id: "primary",
		responses: []string{
			"<<<tool.read\nfile.txt\n>>>",
			"final answer after tool use",
		},
	})
	registry := toolsreg.NewRegistry()
	hub := New(o, registry, nil)

	res, err := hub.Run(context.Background(), "do something", Options{ToolContext: &toolsreg.ToolContext{}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != "final answer after tool use" {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.ExploredEntries) != 1 || !strings.Contains(res.ExploredEntries[0], "tool:read") {
		t.Errorf("ExploredEntries = %v", res.ExploredEntries)
	}
}

func TestRun_MaxToolRoundsStopsAndStripsBlocks(t *testing.T) {
	o := orchestrator.New()
	o.Register("primary", &scriptedAdapter{
		id:        "primary",
		responses: []string{"<<<tool.read\na\n>>>", "<<<tool.read\nb\n>>>", "<<<tool.read\nc\n>>>"},
	})
	hub := New(o, toolsreg.NewRegistry(), nil)

	res, err := hub.Run(context.Background(), "go", Options{MaxToolRounds: 1, ToolContext: &toolsreg.ToolContext{}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.Response, "<<<") {
		t.Errorf("expected tool blocks stripped, got %q", res.Response)
	}
}

func TestRun_DelegationRoundInvokesAuxAndReconciles(t *testing.T) {
	o := orchestrator.New()
	o.Register("primary", &scriptedAdapter{
		id: "primary",
		responses: []string{
			"<<<agent.aux\ndo the subtask\n>>>",
			"final answer incorporating aux's work",
		},
	})
	o.Register("aux", &scriptedAdapter{id: "aux", responses: []string{"aux's result"}})
	hub := New(o, toolsreg.NewRegistry(), nil)

	res, err := hub.Run(context.Background(), "help me", Options{ToolContext: &toolsreg.ToolContext{}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Response != "final answer incorporating aux's work" {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.Delegations) != 1 || res.Delegations[0].AgentID != "aux" {
		t.Fatalf("Delegations = %+v", res.Delegations)
	}
	if res.SupervisorRounds != 1 {
		t.Errorf("SupervisorRounds = %d, want 1", res.SupervisorRounds)
	}
}

func TestRun_DelegationToUnknownAgentFails(t *testing.T) {
	o := orchestrator.New()
	o.Register("primary", &scriptedAdapter{
		id:        "primary",
		responses: []string{"<<<agent.ghost\ndo it\n>>>"},
	})
	hub := New(o, toolsreg.NewRegistry(), nil)

	_, err := hub.Run(context.Background(), "help", Options{ToolContext: &toolsreg.ToolContext{}})
	if err == nil {
		t.Fatalf("expected error for delegation to unknown agent")
	}
}

func TestRun_NoActiveAgentFails(t *testing.T) {
	o := orchestrator.New()
	hub := New(o, toolsreg.NewRegistry(), nil)
	_, err := hub.Run(context.Background(), "hi", Options{})
	if err == nil {
		t.Fatalf("expected error with no active agent")
	}
}

func TestRun_CancelledContextAborts(t *testing.T) {
	o := orchestrator.New()
	o.Register("primary", &scriptedAdapter{id: "primary", responses: []string{"hi"}})
	hub := New(o, toolsreg.NewRegistry(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := hub.Run(ctx, "hi", Options{})
	if err == nil {
		t.Fatalf("expected abort error on cancelled context")
	}
}

func TestRun_DedupeDelegationsBySameAgentAndPrompt(t *testing.T) {
	o := orchestrator.New()
	o.Register("primary", &scriptedAdapter{
		id: "primary",
		responses: []string{
			"<<<agent.aux\nsame task\n>>><<<agent.aux\nsame task\n>>>",
			"done",
		},
	})
	aux := &scriptedAdapter{id: "aux", responses: []string{"result"}}
	o.Register("aux", aux)
	hub := New(o, toolsreg.NewRegistry(), nil)

	res, err := hub.Run(context.Background(), "go", Options{ToolContext: &toolsreg.ToolContext{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Delegations) != 1 {
		t.Fatalf("expected deduped to 1 delegation, got %d", len(res.Delegations))
	}
}
