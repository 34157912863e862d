package agentadapter

import (
	"context"
	"strings"
	"testing"
)

func TestMockAdapter_SendEchoesInput(t *testing.T) {
	a := NewMockAdapter("aux", false)
	res, err := a.Send(context.Background(), "hello world", SendOptions{})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(res.Response, "hello world") {
		t.Errorf("response = %q, missing input echo", res.Response)
	}
	if res.AgentID != "aux" {
		t.Errorf("AgentID = %q", res.AgentID)
	}
}

func TestMockAdapter_StatefulRemembersThreadID(t *testing.T) {
	a := NewMockAdapter("primary", true)
	if _, ok := a.GetThreadID(); ok {
		t.Fatalf("expected no thread id before first Send")
	}
	if _, err := a.Send(context.Background(), "turn 1", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	id1, ok := a.GetThreadID()
	if !ok {
		t.Fatalf("expected a thread id after first Send")
	}
	if _, err := a.Send(context.Background(), "turn 2", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	id2, _ := a.GetThreadID()
	if id1 != id2 {
		t.Errorf("thread id changed across calls: %q != %q", id1, id2)
	}
}

func TestMockAdapter_StatelessNeverHasThreadID(t *testing.T) {
	a := NewMockAdapter("aux", false)
	if _, err := a.Send(context.Background(), "turn 1", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.GetThreadID(); ok {
		t.Errorf("stateless adapter should never report a thread id")
	}
}

func TestMockAdapter_ResetClearsThreadID(t *testing.T) {
	a := NewMockAdapter("primary", true)
	if _, err := a.Send(context.Background(), "turn 1", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	a.Reset()
	if _, ok := a.GetThreadID(); ok {
		t.Errorf("expected thread id cleared after Reset")
	}
}

func TestMockAdapter_SetThreadIDResumesStatefulAdapter(t *testing.T) {
	a := NewMockAdapter("primary", true)
	a.SetThreadID("resumed-thread")
	id, ok := a.GetThreadID()
	if !ok || id != "resumed-thread" {
		t.Fatalf("GetThreadID = %q, %v, want resumed-thread, true", id, ok)
	}
	if _, err := a.Send(context.Background(), "turn 1", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	id2, _ := a.GetThreadID()
	if id2 != "resumed-thread" {
		t.Errorf("thread id changed after Send: %q", id2)
	}
}

func TestMockAdapter_SetThreadIDIgnoredForStatelessAdapter(t *testing.T) {
	a := NewMockAdapter("aux", false)
	a.SetThreadID("ignored")
	if _, ok := a.GetThreadID(); ok {
		t.Errorf("stateless adapter should not accept a thread id")
	}
}

func TestMockAdapter_SendRespectsCancelledContext(t *testing.T) {
	a := NewMockAdapter("aux", false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Send(ctx, "hi", SendOptions{})
	if err == nil {
		t.Fatalf("expected error on cancelled context")
	}
}

func TestMockAdapter_OnEventReceivesFullPhaseSequence(t *testing.T) {
	a := NewMockAdapter("aux", false)
	var phases []Phase
	unsub := a.OnEvent(func(ev AgentEvent) { phases = append(phases, ev.Phase) })
	defer unsub()

	if _, err := a.Send(context.Background(), "hi", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	want := []Phase{PhaseBoot, PhaseConnection, PhaseAnalysis, PhaseResponding, PhaseCompleted}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d = %q, want %q", i, phases[i], want[i])
		}
	}
}

func TestMockAdapter_UnsubscribeStopsDelivery(t *testing.T) {
	a := NewMockAdapter("aux", false)
	count := 0
	unsub := a.OnEvent(func(ev AgentEvent) { count++ })
	unsub()

	if _, err := a.Send(context.Background(), "hi", SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected no events after unsubscribe, got %d", count)
	}
}

func TestMockAdapter_SetWorkingDirectoryAndModelReflectedInResponse(t *testing.T) {
	a := NewMockAdapter("aux", false)
	a.SetWorkingDirectory("/workspace/proj")
	a.SetModel("mock-large")
	res, err := a.Send(context.Background(), "ping", SendOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Response, "/workspace/proj") || !strings.Contains(res.Response, "mock-large") {
		t.Errorf("response = %q, missing cwd/model", res.Response)
	}
}
