// Package retry runs an operation again after transient failures,
// waiting a fixed sequence of delays between attempts.
//
// The number of retries is len(Policy.Delays): an empty sequence means
// a single attempt. Errors the Retryable predicate rejects are returned
// immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy describes when and how long to wait before trying again.
type Policy struct {
	// Delays is the wait before each retry, in order.
	Delays []time.Duration

	// Retryable reports whether err is worth another attempt. A nil
	// predicate retries every error.
	Retryable func(err error) bool

	// OnRetry, if set, is called before each wait with the 1-based
	// number of the attempt that failed.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Tests replace it; nil
	// uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned when every attempt failed with a retryable
// error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls fn until it succeeds, returns a non-retryable error, or the
// delay sequence runs out. Context cancellation during a wait returns
// the context error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt > len(p.Delays) {
			return zero, &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := p.Delays[attempt-1]
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, errors.Join(serr, err)
		}
	}
}

// Backoff builds an exponential delay sequence of n entries starting at
// initial, growing by multiplier and capped at max (0 means uncapped).
//
//	Backoff(time.Second, 2, 0, 3) // 1s, 2s, 4s
func Backoff(initial time.Duration, multiplier float64, max time.Duration, n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	delays := make([]time.Duration, n)
	d := initial
	for i := range delays {
		if max > 0 && d > max {
			d = max
		}
		delays[i] = d
		d = time.Duration(float64(d) * multiplier)
	}
	return delays
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
