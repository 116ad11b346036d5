package mqtt

import (
	"sync"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

// DailyTokens tracks token usage that resets at local midnight, plus
// the time the last turn completed. It is fed from turn_complete
// events and is safe for concurrent use.
type DailyTokens struct {
	mu       sync.Mutex
	input    int64
	output   int64
	turns    int64
	day      string
	lastTurn time.Time
	loc      *time.Location
	now      func() time.Time
}

// NewDailyTokens creates an accumulator that rolls over at midnight in
// loc (nil means [time.Local]).
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, now: time.Now}
	d.day = d.today()
	return d
}

// Observe records a completed turn. Other events are ignored.
func (d *DailyTokens) Observe(e events.Event) {
	if e.Source != events.SourceAgent || e.Kind != events.KindTurnComplete {
		return
	}
	d.Add(intField(e.Data, "tokens_in"), intField(e.Data, "tokens_out"), e.Timestamp)
}

// Add records one turn's token counts.
func (d *DailyTokens) Add(input, output int, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.input += int64(input)
	d.output += int64(output)
	d.turns++
	if at.After(d.lastTurn) {
		d.lastTurn = at
	}
}

// Snapshot returns today's input tokens, output tokens and turn count.
func (d *DailyTokens) Snapshot() (input, output, turns int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	return d.input, d.output, d.turns
}

// LastTurn returns when the most recent turn completed, or zero.
func (d *DailyTokens) LastTurn() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTurn
}

func (d *DailyTokens) today() string {
	return d.now().In(d.loc).Format(time.DateOnly)
}

// maybeReset must be called with d.mu held.
func (d *DailyTokens) maybeReset() {
	if today := d.today(); today != d.day {
		d.input, d.output, d.turns = 0, 0, 0
		d.day = today
	}
}

// intField reads a numeric event field, which is an int when published
// in-process and a float64 after a JSON round trip.
func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
