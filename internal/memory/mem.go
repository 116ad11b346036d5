package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemStore is an in-process [Store]. Conversations are copied on the
// way in and out so callers never share backing arrays.
type MemStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	ttl           time.Duration
	maxMessages   int
	now           func() time.Time
	logger        *slog.Logger
}

// NewMemStore creates an in-memory store. ttl <= 0 keeps sessions
// forever; maxMessages <= 0 disables trimming.
func NewMemStore(ttl time.Duration, maxMessages int, logger *slog.Logger) *MemStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemStore{
		conversations: make(map[string]*Conversation),
		ttl:           ttl,
		maxMessages:   maxMessages,
		now:           time.Now,
		logger:        logger,
	}
}

// Get returns a copy of the conversation or nil.
func (s *MemStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || s.expired(conv) {
		return nil, nil
	}
	return conv.Clone(), nil
}

// Put stores a copy of conv, trimmed to the configured maximum.
func (s *MemStore) Put(_ context.Context, conv *Conversation) error {
	cp := conv.Clone()
	cp.Trim(s.maxMessages)
	cp.UpdatedAt = s.now()

	s.mu.Lock()
	s.conversations[cp.ID] = cp
	s.mu.Unlock()
	return nil
}

// Delete forgets a session.
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.conversations, id)
	s.mu.Unlock()
	return nil
}

// Count returns the number of unexpired sessions.
func (s *MemStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, conv := range s.conversations {
		if !s.expired(conv) {
			n++
		}
	}
	return n, nil
}

// Evict removes expired sessions and returns how many were dropped.
func (s *MemStore) Evict() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, conv := range s.conversations {
		if s.expired(conv) {
			delete(s.conversations, id)
			n++
		}
	}
	return n
}

// Run evicts expired sessions periodically until ctx is cancelled.
func (s *MemStore) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	interval := s.ttl / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(); n > 0 {
				s.logger.Debug("evicted idle sessions", "count", n)
			}
		}
	}
}

func (s *MemStore) expired(conv *Conversation) bool {
	return s.ttl > 0 && s.now().Sub(conv.UpdatedAt) > s.ttl
}
