// Package llm talks to hosted and local language models. Every provider
// is reduced to one blocking request/response exchange over a flat
// list of role-tagged text messages; the caller owns conversation state.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model   string
	Message Message

	// Token usage (provider-neutral, zero when unreported)
	InputTokens  int
	OutputTokens int

	Elapsed time.Duration
}

// splitSystem separates system messages, joined with blank lines, from
// the rest of the conversation. Providers with a dedicated system field
// use it.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
