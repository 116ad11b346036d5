package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

// Recorder turns agent turn events into ledger records.
type Recorder struct {
	store    *Store
	model    string
	provider string
	logger   *slog.Logger
}

// NewRecorder records turns answered by model at provider.
func NewRecorder(store *Store, model, provider string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, model: model, provider: provider, logger: logger}
}

// Run records turn_complete and turn_failed events until ctx is
// cancelled.
func (r *Recorder) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			rec, ok := r.record(e)
			if !ok {
				continue
			}
			// A record is small; finish it even during shutdown.
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := r.store.Record(wctx, rec); err != nil {
				r.logger.Warn("usage record failed", "turn_id", rec.TurnID, "error", err)
			}
			cancel()
		}
	}
}

// record builds the ledger entry for e, if e ends a turn.
func (r *Recorder) record(e events.Event) (Record, bool) {
	if e.Source != events.SourceAgent {
		return Record{}, false
	}
	rec := Record{
		Timestamp:    e.Timestamp,
		TurnID:       str(e.Data["turn_id"]),
		SessionID:    str(e.Data["session_id"]),
		Model:        r.model,
		Provider:     r.provider,
		Action:       str(e.Data["action"]),
		Exchanges:    int(num(e.Data["exchanges"])),
		InputTokens:  int(num(e.Data["tokens_in"])),
		OutputTokens: int(num(e.Data["tokens_out"])),
		ElapsedMS:    num(e.Data["elapsed_ms"]),
	}
	switch e.Kind {
	case events.KindTurnComplete:
		rec.Outcome = OutcomeOK
	case events.KindTurnFailed:
		rec.Outcome = str(e.Data["reason"])
	default:
		return Record{}, false
	}
	return rec, true
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
