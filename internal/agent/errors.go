package agent

import (
	"errors"
	"fmt"
)

// ErrServiceUnavailable means the model stayed overloaded through every
// retry, or the turn ran out of time waiting for it.
var ErrServiceUnavailable = errors.New("model service unavailable")

// ErrModel wraps a non-transient provider failure (bad credentials,
// malformed request, blocked prompt).
var ErrModel = errors.New("model request failed")

// ContractViolation means the model's reply did not follow the reply
// format, named an unknown function, or passed an unusable argument.
// Raw holds the reply text as received.
type ContractViolation struct {
	Raw    string
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("invalid model reply: %s", e.Reason)
}
