package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-success HTTP response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// StatusOverloaded is Anthropic's non-standard "overloaded" status.
const StatusOverloaded = 529

// IsTransient reports whether err means the provider is temporarily
// overloaded or rate limited and the same request may succeed later.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		StatusOverloaded:
		return true
	}
	body := strings.ToLower(apiErr.Body)
	return strings.Contains(body, "overloaded") ||
		strings.Contains(body, "resource_exhausted") ||
		strings.Contains(body, "\"unavailable\"")
}
