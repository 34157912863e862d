package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/andy963/ads/internal/agentadapter"
	"github.com/andy963/ads/internal/apperr"
)

func TestRegister_FirstAdapterBecomesActive(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	if o.GetActiveAgentID() != "primary" {
		t.Errorf("active = %q, want primary", o.GetActiveAgentID())
	}
	o.Register("aux", agentadapter.NewMockAdapter("aux", false))
	if o.GetActiveAgentID() != "primary" {
		t.Errorf("active changed to %q after registering a second adapter", o.GetActiveAgentID())
	}
}

func TestSwitchAgent_UnknownIDFails(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	if err := o.SwitchAgent("ghost"); !errors.Is(err, apperr.Input) {
		t.Errorf("expected Input kind error, got %v", err)
	}
}

func TestSwitchAgent_KnownIDSucceeds(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	o.Register("aux", agentadapter.NewMockAdapter("aux", false))
	if err := o.SwitchAgent("aux"); err != nil {
		t.Fatal(err)
	}
	if o.GetActiveAgentID() != "aux" {
		t.Errorf("active = %q, want aux", o.GetActiveAgentID())
	}
}

func TestInvokeAgent_RoutesToActiveWhenIDEmpty(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	res, err := o.InvokeAgent(context.Background(), "", "hello", agentadapter.SendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.AgentID != "primary" {
		t.Errorf("AgentID = %q, want primary", res.AgentID)
	}
}

func TestInvokeAgent_UnknownIDFails(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	_, err := o.InvokeAgent(context.Background(), "ghost", "hello", agentadapter.SendOptions{})
	if !errors.Is(err, apperr.Input) {
		t.Errorf("expected Input kind error, got %v", err)
	}
}

func TestHasAgent(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	if !o.HasAgent("primary") {
		t.Errorf("expected HasAgent(primary) = true")
	}
	if o.HasAgent("ghost") {
		t.Errorf("expected HasAgent(ghost) = false")
	}
}

func TestListAgents_ReturnsAllMetadata(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	o.Register("aux", agentadapter.NewMockAdapter("aux", false))
	list := o.ListAgents()
	if len(list) != 2 {
		t.Fatalf("got %d agents, want 2", len(list))
	}
}

func TestOnEvent_MultiplexesAllAdapters(t *testing.T) {
	o := New()
	o.Register("primary", agentadapter.NewMockAdapter("primary", true))
	o.Register("aux", agentadapter.NewMockAdapter("aux", false))

	count := 0
	unsub := o.OnEvent(func(ev agentadapter.AgentEvent) { count++ })
	defer unsub()

	if _, err := o.InvokeAgent(context.Background(), "primary", "hi", agentadapter.SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := o.InvokeAgent(context.Background(), "aux", "hi", agentadapter.SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if count == 0 {
		t.Errorf("expected events to be multiplexed from both adapters")
	}
}
