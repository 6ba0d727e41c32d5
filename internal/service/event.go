package service

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a class of events on the bus.
type EventType string

const (
	// System events
	EventTypeServiceStarted EventType = "service.started"
	EventTypeServiceStopped EventType = "service.stopped"
	EventTypeServiceError   EventType = "service.error"

	// Discovery events
	EventTypeScanStarted      EventType = "discovery.scan_started"
	EventTypeScanCompleted    EventType = "discovery.scan_completed"
	EventTypeCameraDiscovered EventType = "camera.discovered"

	// Recording events
	EventTypeRecordingStarted EventType = "recording.started"
	EventTypeRecordingStopped EventType = "recording.stopped"
	EventTypeSegmentOpened    EventType = "recording.segment_opened"
	EventTypeSegmentClosed    EventType = "recording.segment_closed"

	// Storage events
	EventTypeRetentionSwept EventType = "storage.retention_swept"
	EventTypeStorageWarning EventType = "storage.warning"
)

// Event is one message on the bus.
type Event struct {
	Type      EventType
	Source    string // service that emitted the event
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventBus fans events out to per-type subscribers. Delivery is
// best-effort: a subscriber that stops draining its channel loses
// events rather than blocking the publisher.
type EventBus struct {
	subscribers map[EventType][]chan Event
	mu          sync.RWMutex
	bufferSize  int
}

// NewEventBus creates a bus whose subscriber channels buffer up to
// bufferSize events. Non-positive sizes fall back to 100.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a buffered channel receiving every event of the
// given type published after this call.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// Publish delivers the event to all current subscribers of its type,
// stamping the timestamp if the publisher left it zero.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		select {
		case sub <- event:
		default:
			// Full buffer, drop for this subscriber.
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
}

// Close closes every subscription. Publishing afterwards is a no-op.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(eb.subscribers, eventType)
	}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event)

// SubscribeWithHandler subscribes to one event type and runs the handler
// for every event on a dedicated goroutine. The subscription ends when
// ctx is canceled or the bus closes.
func (eb *EventBus) SubscribeWithHandler(ctx context.Context, eventType EventType, handler EventHandler) {
	ch := eb.Subscribe(eventType)
	go func() {
		defer eb.Unsubscribe(eventType, ch)
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				handler(ctx, event)
			case <-ctx.Done():
				return
			}
		}
	}()
}
