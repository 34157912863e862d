package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_InboundRoundTrip(t *testing.T) {
	b := NewMessageBus(4)
	b.PublishInbound(InboundMessage{Channel: "telegram", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Content != "hi" {
		t.Errorf("Content = %q, want hi", msg.Content)
	}
}

func TestMessageBus_ConsumeInbound_CancelledContext(t *testing.T) {
	b := NewMessageBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Error("expected ok=false on cancelled context with no pending message")
	}
}

func TestMessageBus_Broadcast_DeliversToAllSubscribers(t *testing.T) {
	b := NewMessageBus(4)
	var gotA, gotB Event
	b.Subscribe("a", func(e Event) { gotA = e })
	b.Subscribe("b", func(e Event) { gotB = e })

	b.Broadcast(Event{Name: "chat", Payload: "hello"})

	if gotA.Name != "chat" || gotB.Name != "chat" {
		t.Errorf("both subscribers should receive the event, got %+v %+v", gotA, gotB)
	}
}

func TestMessageBus_Unsubscribe_StopsDelivery(t *testing.T) {
	b := NewMessageBus(4)
	calls := 0
	b.Subscribe("x", func(Event) { calls++ })
	b.Unsubscribe("x")
	b.Broadcast(Event{Name: "ping"})
	if calls != 0 {
		t.Errorf("unsubscribed handler should not be called, got %d calls", calls)
	}
}
