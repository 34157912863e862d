package typing

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestController_StartCallsStartFnImmediatelyAndOnKeepalive(t *testing.T) {
	var calls int32
	c := New(Options{
		KeepaliveInterval: 20 * time.Millisecond,
		MaxDuration:       200 * time.Millisecond,
		StartFn: func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	c.Start()
	time.Sleep(70 * time.Millisecond)
	c.Stop()

	if atomic.LoadInt32(&calls) < 2 {
		t.Fatalf("expected StartFn to be called at least twice, got %d", calls)
	}
}

func TestController_StopEndsKeepaliveLoop(t *testing.T) {
	var calls int32
	c := New(Options{
		KeepaliveInterval: 10 * time.Millisecond,
		StartFn: func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	c.Start()
	time.Sleep(15 * time.Millisecond)
	c.Stop()
	afterStop := atomic.LoadInt32(&calls)

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&calls) != afterStop {
		t.Errorf("expected no further calls after Stop, got %d more", atomic.LoadInt32(&calls)-afterStop)
	}
}

func TestController_MaxDurationStopsItself(t *testing.T) {
	var calls int32
	c := New(Options{
		KeepaliveInterval: 10 * time.Millisecond,
		MaxDuration:       35 * time.Millisecond,
		StartFn: func() error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})
	c.Start()
	time.Sleep(60 * time.Millisecond)
	afterDeadline := atomic.LoadInt32(&calls)

	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&calls) != afterDeadline {
		t.Errorf("expected the controller to stop itself at MaxDuration, got %d more calls", atomic.LoadInt32(&calls)-afterDeadline)
	}
}

func TestController_StopIsSafeToCallTwice(t *testing.T) {
	c := New(Options{StartFn: func() error { return nil }})
	c.Start()
	c.Stop()
	c.Stop()
}
