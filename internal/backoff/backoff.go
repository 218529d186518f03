// Package backoff provides retry strategies with configurable delay ladders.
package backoff

import (
	"context"
	"time"
)

// Strategy describes the delays inserted between successive attempts of an
// operation. An operation run under a Strategy executes len(Delays)+1 times
// at most.
type Strategy struct {
	Delays []time.Duration
}

// Linear builds a strategy whose n-th retry waits base*n, for a total of
// attempts executions. Linear(time.Second, 3) yields delays of 1s and 2s.
func Linear(base time.Duration, attempts int) Strategy {
	if attempts < 1 {
		attempts = 1
	}
	delays := make([]time.Duration, 0, attempts-1)
	for i := 1; i < attempts; i++ {
		delays = append(delays, base*time.Duration(i))
	}
	return Strategy{Delays: delays}
}

// Attempts reports how many times an operation will be executed at most.
func (s Strategy) Attempts() int {
	return len(s.Delays) + 1
}

// Retry runs fn until it succeeds or the strategy is exhausted, returning
// the error of the final attempt.
func Retry(ctx context.Context, strategy Strategy, fn func() error) error {
	return RetryWithCallback(ctx, strategy, fn, nil)
}

// RetryWithCallback behaves like Retry and additionally invokes onRetry
// before each delay, with the 1-based number of the attempt that just
// failed, its error, and the delay about to be applied. Context
// cancellation during a delay aborts with the context's error.
func RetryWithCallback(ctx context.Context, strategy Strategy, fn func() error, onRetry func(attempt int, err error, delay time.Duration)) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt > len(strategy.Delays) {
			return lastErr
		}

		delay := strategy.Delays[attempt-1]
		if onRetry != nil {
			onRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
