package todo

import (
	"context"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

// NotifyingStore publishes [events.KindTodoCreated] after each insert
// and [events.KindTodoDeleted] when a delete removed a row. Deleting an
// unknown id is silent unless the wrapped store cannot tell, in which
// case every successful delete is announced.
type NotifyingStore struct {
	Store
	bus *events.Bus
}

// NewNotifyingStore wraps s. A nil bus makes it a pass-through.
func NewNotifyingStore(s Store, bus *events.Bus) *NotifyingStore {
	return &NotifyingStore{Store: s, bus: bus}
}

// Create inserts a task and announces it.
func (n *NotifyingStore) Create(ctx context.Context, text string) (int64, error) {
	id, err := n.Store.Create(ctx, text)
	if err != nil {
		return 0, err
	}
	n.bus.Emit(events.SourceStore, events.KindTodoCreated, map[string]any{"id": id})
	return id, nil
}

// remover is implemented by stores that can report whether a delete
// matched a row.
type remover interface {
	remove(ctx context.Context, id int64) (bool, error)
}

// Delete removes a task and announces it if it existed.
func (n *NotifyingStore) Delete(ctx context.Context, id int64) error {
	removed := true
	if r, ok := n.Store.(remover); ok {
		var err error
		if removed, err = r.remove(ctx, id); err != nil {
			return err
		}
	} else if err := n.Store.Delete(ctx, id); err != nil {
		return err
	}
	if removed {
		n.bus.Emit(events.SourceStore, events.KindTodoDeleted, map[string]any{"id": id})
	}
	return nil
}
