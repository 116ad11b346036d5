package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Source: SourceAgent, Kind: KindTurnStart})
	b.Emit(SourceStore, KindTodoCreated, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestEmitFanOut(t *testing.T) {
	b := New()
	const n = 3
	subs := make([]<-chan Event, n)
	for i := range n {
		subs[i] = b.Subscribe(4)
	}
	defer func() {
		for _, ch := range subs {
			b.Unsubscribe(ch)
		}
	}()

	b.Emit(SourceStore, KindTodoCreated, map[string]any{"id": int64(7)})

	for i, ch := range subs {
		select {
		case got := <-ch:
			if got.Kind != KindTodoCreated || got.Source != SourceStore {
				t.Errorf("subscriber %d: got %+v", i, got)
			}
			if got.Timestamp.IsZero() {
				t.Errorf("subscriber %d: event not timestamped", i)
			}
			if id, _ := got.Data["id"].(int64); id != 7 {
				t.Errorf("subscriber %d: id = %v, want 7", i, got.Data["id"])
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestPublishStampsZeroTimestamp(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "x"})
	if got := <-ch; got.Timestamp.IsZero() {
		t.Error("Publish should stamp events without a timestamp")
	}
}

func TestDropOnFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "first"})
	b.Publish(Event{Kind: "second"})

	if got := <-ch; got.Kind != "first" {
		t.Errorf("got kind %q, want %q", got.Kind, "first")
	}
	select {
	case evt := <-ch:
		t.Errorf("expected empty channel, got %v", evt)
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch1 := b.Subscribe(4)
	ch2 := b.Subscribe(4)
	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount() = %d, want 2", got)
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1) // second call is a no-op

	if _, ok := <-ch1; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}

	b.Unsubscribe(ch2)
	b.Publish(Event{Kind: "after"}) // no subscribers left
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(64)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				b.Emit(SourceAgent, KindToolCall, map[string]any{"publisher": i, "seq": j})
			}
		}()
	}
	wg.Wait()
	b.Unsubscribe(ch)
	<-done
}
