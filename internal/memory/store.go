// Package memory keeps the per-session conversation history the model
// sees on every turn. Sessions that stay idle longer than the TTL are
// evicted.
package memory

import (
	"context"
	"time"
)

// Message roles as stored in history.
const (
	RoleSystem = "system"
	RoleUser   = "user"
	RoleModel  = "model"
)

// Message is one turn of a conversation. Tool observations are sent to
// the model as user messages but do not start a turn.
type Message struct {
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Observation bool      `json:"observation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// startsTurn reports whether m is a message typed by the user.
func (m Message) startsTurn() bool {
	return m.Role == RoleUser && !m.Observation
}

// Conversation is the ordered history of one session. The first
// message is the system preamble and is never altered.
type Conversation struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation starts a history seeded with the system preamble.
func NewConversation(id, system string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Messages:  []Message{{Role: RoleSystem, Content: system, Timestamp: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message stamped with the current time.
func (c *Conversation) Append(role, content string) {
	now := time.Now()
	c.Messages = append(c.Messages, Message{Role: role, Content: content, Timestamp: now})
	c.UpdatedAt = now
}

// AppendObservation adds a tool result as a user-role message.
func (c *Conversation) AppendObservation(content string) {
	now := time.Now()
	c.Messages = append(c.Messages, Message{Role: RoleUser, Content: content, Observation: true, Timestamp: now})
	c.UpdatedAt = now
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.Messages) }

// Truncate drops every message after the first n.
func (c *Conversation) Truncate(n int) {
	if n < len(c.Messages) {
		c.Messages = c.Messages[:n]
	}
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

// Trim keeps the system messages and the most recent non-system
// messages so that the total does not exceed max. The window holds at
// least ten messages and is then shortened to begin at a user turn, so
// history never opens on a model reply or a dangling observation.
// max <= 0 disables trimming.
func (c *Conversation) Trim(max int) {
	if max <= 0 || len(c.Messages) <= max {
		return
	}

	var system, other []Message
	for _, m := range c.Messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}

	keep := max - len(system)
	if keep < 10 {
		keep = 10
	}
	if len(other) > keep {
		cut := len(other) - keep
		for i := cut; i < len(other); i++ {
			if other[i].startsTurn() {
				cut = i
				break
			}
		}
		other = other[cut:]
	}
	c.Messages = append(system, other...)
}

// Store persists conversations by session id.
type Store interface {
	// Get returns a copy of the conversation, or nil if the session is
	// unknown or expired.
	Get(ctx context.Context, id string) (*Conversation, error)
	// Put saves the conversation and refreshes its TTL.
	Put(ctx context.Context, conv *Conversation) error
	// Delete forgets a session.
	Delete(ctx context.Context, id string) error
	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
}
