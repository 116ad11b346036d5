package agent

import (
	"context"
	"sync"
)

// sessionLocks serialises turns per session. Entries exist only while a
// turn holds or waits for them.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// acquire blocks until the session is free or ctx is done. The returned
// release must be called exactly once.
func (s *sessionLocks) acquire(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*sessionLock)
	}
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			s.drop(id, l)
		}, nil
	case <-ctx.Done():
		s.drop(id, l)
		return nil, ctx.Err()
	}
}

func (s *sessionLocks) drop(id string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}

func (s *sessionLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
