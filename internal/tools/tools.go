// Package tools defines the closed set of functions the model may call
// to read and change the task list.
package tools

import (
	"context"
	"strings"

	"github.com/Waghib/Speech-to-TODO-List/internal/todo"
)

// Function names the model may request.
const (
	GetAllTodos    = "getAllTodos"
	CreateTodo     = "createTodo"
	SearchTodo     = "searchTodo"
	DeleteTodoByID = "deleteTodoById"
)

// Tool represents a callable tool. The handler's result is the
// observation replayed to the model and must marshal to JSON.
type Tool struct {
	Name        string
	Signature   string
	Description string
	Handler     func(ctx context.Context, in Input) (any, error)
}

// Registry holds the available tools.
type Registry struct {
	tools map[string]*Tool
	order []string
	store todo.Store
}

// NewRegistry creates the registry of task tools backed by store.
func NewRegistry(store todo.Store) *Registry {
	r := &Registry{
		tools: make(map[string]*Tool),
		store: store,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        GetAllTodos,
		Signature:   "getAllTodos(): {id, todo}[]",
		Description: "Get all todos from the database.",
		Handler:     r.handleGetAll,
	})
	r.Register(&Tool{
		Name:        CreateTodo,
		Signature:   "createTodo(todo: string): number",
		Description: "Create a new todo in the database and return its id.",
		Handler:     r.handleCreate,
	})
	r.Register(&Tool{
		Name:        SearchTodo,
		Signature:   "searchTodo(query: string): {id, todo}[]",
		Description: "Search todos whose text contains the query, ignoring case.",
		Handler:     r.handleSearch,
	})
	r.Register(&Tool{
		Name:        DeleteTodoByID,
		Signature:   "deleteTodoById(id: number): null",
		Description: "Delete the todo with the given id.",
		Handler:     r.handleDelete,
	})
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns the tools in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Execute runs the named tool. Unknown names yield *ErrUnknownTool and
// store failures pass through unchanged.
func (r *Registry) Execute(ctx context.Context, name string, in Input) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &ErrUnknownTool{ToolName: name}
	}
	return t.Handler(ctx, in)
}

func (r *Registry) handleGetAll(ctx context.Context, _ Input) (any, error) {
	return r.store.List(ctx)
}

func (r *Registry) handleCreate(ctx context.Context, in Input) (any, error) {
	text := strings.TrimSpace(in.String())
	if text == "" {
		return nil, &ErrInvalidInput{ToolName: CreateTodo, Reason: "todo text is empty"}
	}
	return r.store.Create(ctx, text)
}

func (r *Registry) handleSearch(ctx context.Context, in Input) (any, error) {
	return r.store.Search(ctx, in.String())
}

func (r *Registry) handleDelete(ctx context.Context, in Input) (any, error) {
	id, ok := in.Int64()
	if !ok {
		return nil, &ErrInvalidInput{ToolName: DeleteTodoByID, Reason: "id must be an integer, got " + quoteInput(in)}
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return nil, nil
}

func quoteInput(in Input) string {
	if in.IsEmpty() {
		return "nothing"
	}
	b, _ := in.MarshalJSON()
	return string(b)
}
