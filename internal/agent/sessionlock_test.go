package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionLocks_CancelWhileWaiting(t *testing.T) {
	var locks sessionLocks
	release, err := locks.acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.acquire(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second acquire error = %v, want deadline exceeded", err)
	}

	// Other sessions are unaffected.
	r2, err := locks.acquire(context.Background(), "s2")
	if err != nil {
		t.Fatalf("acquire s2: %v", err)
	}
	r2()

	release()
	if n := locks.size(); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestSessionLocks_HandOff(t *testing.T) {
	var locks sessionLocks
	release, _ := locks.acquire(context.Background(), "s1")

	acquired := make(chan struct{})
	go func() {
		r, err := locks.acquire(context.Background(), "s1")
		if err != nil {
			t.Errorf("acquire: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		r()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while first still held the lock")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired")
	}
}
