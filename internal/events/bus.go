// Package events carries operational events from the agent loop and the
// task store to observers: the /v1/events websocket, the Prometheus
// collector and the MQTT publisher. A nil *Bus is valid and discards
// everything, so producers never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	// SourceAgent identifies events from the agent loop.
	SourceAgent = "agent"
	// SourceStore identifies events from the task store.
	SourceStore = "store"
)

// Kinds published by [SourceAgent].
const (
	// KindTurnStart: session_id, turn_id.
	KindTurnStart = "turn_start"
	// KindModelCall: session_id, turn_id, exchange, model.
	KindModelCall = "model_call"
	// KindModelRetry: session_id, turn_id, attempt, delay_ms, error.
	KindModelRetry = "model_retry"
	// KindModelReply: session_id, turn_id, exchange, tokens_in,
	// tokens_out, elapsed_ms.
	KindModelReply = "model_reply"
	// KindToolCall: session_id, turn_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone: session_id, turn_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete: session_id, turn_id, action, exchanges,
	// tokens_in, tokens_out, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindTurnFailed: session_id, turn_id, reason, error, elapsed_ms.
	KindTurnFailed = "turn_failed"
)

// Kinds published by [SourceStore].
const (
	// KindTodoCreated: id.
	KindTodoCreated = "todo_created"
	// KindTodoDeleted: id.
	KindTodoDeleted = "todo_deleted"
)

// Event is a single occurrence published on the bus.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Each subscriber owns a buffered
// channel; when it is full the event is dropped for that subscriber
// only.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing a freshly stamped event.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe registers a subscriber with the given buffer size. Pair
// every call with [Bus.Unsubscribe].
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subs[ch] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
