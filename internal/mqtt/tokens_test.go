package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

func TestDailyTokens_Add(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	dt.Add(100, 200, time.Time{})
	dt.Add(50, 75, time.Time{})

	input, output, turns := dt.Snapshot()
	if input != 150 || output != 275 || turns != 2 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (150, 275, 2)", input, output, turns)
	}
}

func TestDailyTokens_Observe(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	dt.Observe(events.Event{Timestamp: at, Source: events.SourceAgent, Kind: events.KindTurnComplete,
		Data: map[string]any{"tokens_in": 10, "tokens_out": float64(4)}})
	dt.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindModelReply,
		Data: map[string]any{"tokens_in": 999}})
	dt.Observe(events.Event{Source: events.SourceStore, Kind: events.KindTodoCreated})

	input, output, turns := dt.Snapshot()
	if input != 10 || output != 4 || turns != 1 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (10, 4, 1)", input, output, turns)
	}
	if !dt.LastTurn().Equal(at) {
		t.Errorf("LastTurn() = %v, want %v", dt.LastTurn(), at)
	}
}

func TestDailyTokens_MidnightReset(t *testing.T) {
	now := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	dt := NewDailyTokens(time.UTC)
	dt.now = func() time.Time { return now }
	dt.day = dt.today()

	dt.Add(100, 100, now)
	now = now.Add(2 * time.Minute)

	input, output, turns := dt.Snapshot()
	if input != 0 || output != 0 || turns != 0 {
		t.Errorf("after midnight Snapshot() = (%d, %d, %d), want zeros", input, output, turns)
	}
	if dt.LastTurn().IsZero() {
		t.Error("LastTurn should survive the daily reset")
	}
}

func TestDailyTokens_Concurrent(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt.Add(10, 20, time.Now())
		}()
	}
	wg.Wait()

	input, output, turns := dt.Snapshot()
	if input != 1000 || output != 2000 || turns != 100 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (1000, 2000, 100)", input, output, turns)
	}
}
