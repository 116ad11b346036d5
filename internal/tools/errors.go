package tools

import "fmt"

// ErrUnknownTool is returned when the model names a function that is
// not in the registry.
type ErrUnknownTool struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown function %q", e.ToolName)
}

// ErrInvalidInput is returned when a tool's argument cannot be coerced
// to what the tool needs.
type ErrInvalidInput struct {
	ToolName string
	Reason   string
}

// Error implements the error interface.
func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid input for %s: %s", e.ToolName, e.Reason)
}
