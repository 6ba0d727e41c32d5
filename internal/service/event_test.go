package service

import (
	"context"
	"testing"
	"time"
)

func TestNewEventBus_DefaultBuffer(t *testing.T) {
	bus := NewEventBus(0)
	ch := bus.Subscribe(EventTypeCameraDiscovered)
	if cap(ch) != 100 {
		t.Errorf("expected default buffer of 100, got %d", cap(ch))
	}
}

func TestEventBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewEventBus(10)

	first := bus.Subscribe(EventTypeCameraDiscovered)
	second := bus.Subscribe(EventTypeCameraDiscovered)

	bus.Publish(Event{
		Type:   EventTypeCameraDiscovered,
		Source: "discovery",
		Data:   map[string]interface{}{"host": "192.0.2.17", "port": 888},
	})

	for i, ch := range []<-chan Event{first, second} {
		select {
		case got := <-ch:
			if got.Type != EventTypeCameraDiscovered {
				t.Errorf("subscriber %d: expected %s, got %s", i, EventTypeCameraDiscovered, got.Type)
			}
			if got.Data["host"] != "192.0.2.17" {
				t.Errorf("subscriber %d: expected host 192.0.2.17, got %v", i, got.Data["host"])
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestEventBus_PublishStampsTimestamp(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeScanCompleted)

	before := time.Now()
	bus.Publish(Event{Type: EventTypeScanCompleted, Source: "discovery"})
	after := time.Now()

	select {
	case got := <-ch:
		if got.Timestamp.IsZero() {
			t.Fatal("timestamp should be stamped on publish")
		}
		if got.Timestamp.Before(before) || got.Timestamp.After(after) {
			t.Error("timestamp should fall inside the publish window")
		}
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestEventBus_PublishDropsWhenBufferFull(t *testing.T) {
	bus := NewEventBus(1)
	ch := bus.Subscribe(EventTypeSegmentOpened)

	for i := 1; i <= 3; i++ {
		bus.Publish(Event{
			Type:   EventTypeSegmentOpened,
			Source: "recording",
			Data:   map[string]interface{}{"index": i},
		})
	}

	// Nobody drained between the publishes, so only the first event fit.
	select {
	case got := <-ch:
		if got.Data["index"] != 1 {
			t.Errorf("expected the first event to survive, got index %v", got.Data["index"])
		}
	case <-time.After(time.Second):
		t.Fatal("buffered event not received")
	}

	select {
	case got := <-ch:
		t.Errorf("overflow event should have been dropped, got index %v", got.Data["index"])
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeRetentionSwept)

	bus.Unsubscribe(EventTypeRetentionSwept, ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	// A publish after unsubscribe goes nowhere and must not panic.
	bus.Publish(Event{Type: EventTypeRetentionSwept, Source: "retention"})
}

func TestEventBus_CloseClosesAllSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	first := bus.Subscribe(EventTypeCameraDiscovered)
	second := bus.Subscribe(EventTypeSegmentClosed)

	bus.Close()

	if _, ok := <-first; ok {
		t.Error("camera subscriber should be closed")
	}
	if _, ok := <-second; ok {
		t.Error("segment subscriber should be closed")
	}
}

func TestEventBus_SubscribeWithHandler(t *testing.T) {
	bus := NewEventBus(10)
	got := make(chan Event, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.SubscribeWithHandler(ctx, EventTypeSegmentClosed, func(_ context.Context, ev Event) {
		got <- ev
	})

	for _, path := range []string{"a.mp4", "b.mp4"} {
		bus.Publish(Event{
			Type:   EventTypeSegmentClosed,
			Source: "recording",
			Data:   map[string]interface{}{"path": path},
		})
	}

	for _, want := range []string{"a.mp4", "b.mp4"} {
		select {
		case ev := <-got:
			if ev.Data["path"] != want {
				t.Errorf("expected path %s, got %v", want, ev.Data["path"])
			}
		case <-time.After(time.Second):
			t.Fatal("handler did not receive event")
		}
	}
}

func TestEventBus_HandlerStopsOnContextCancel(t *testing.T) {
	bus := NewEventBus(10)
	got := make(chan Event, 1)

	ctx, cancel := context.WithCancel(context.Background())
	bus.SubscribeWithHandler(ctx, EventTypeScanCompleted, func(_ context.Context, ev Event) {
		got <- ev
	})
	cancel()

	// The subscription tears down with the context. Keep publishing
	// until a publish goes undelivered.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bus.Publish(Event{Type: EventTypeScanCompleted, Source: "discovery"})
		select {
		case <-got:
			time.Sleep(10 * time.Millisecond)
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
	t.Fatal("handler kept receiving after cancel")
}
