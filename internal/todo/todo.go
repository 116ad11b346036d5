// Package todo persists the task list the assistant manages. A task is
// an integer id assigned by the database plus free text; there is no
// update operation and no ordering guarantee beyond ascending id.
package todo

import (
	"context"
	"fmt"
)

// Todo is a single task. The JSON field names are part of the HTTP API
// and of the observations replayed to the model.
type Todo struct {
	ID   int64  `json:"id"`
	Text string `json:"todo"`
}

// Store is the task persistence contract.
type Store interface {
	// List returns every task in ascending id order.
	List(ctx context.Context) ([]Todo, error)
	// Create inserts a task and returns its new id.
	Create(ctx context.Context, text string) (int64, error)
	// Search returns tasks whose text contains substring, ignoring
	// case. An empty substring matches everything.
	Search(ctx context.Context, substring string) ([]Todo, error)
	// Delete removes the task with the given id. Deleting an id that
	// does not exist is not an error.
	Delete(ctx context.Context, id int64) error
}

// StoreError wraps any failure of the underlying database.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("todo store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
