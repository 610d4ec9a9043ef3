// Package retry runs an operation under a bounded attempt budget with an
// attempt-indexed delay schedule.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// Delay returns the wait after failed attempt n (1-based) before n+1.
	Delay func(attempt int) time.Duration
	// ShouldWait decides whether a failure earns the Delay wait. Failures
	// that don't are retried immediately. Nil means every failure waits.
	ShouldWait func(err error) bool
	// OnRetry is called before each retry with the wait that will follow.
	OnRetry func(attempt int, err error, wait time.Duration)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Linear returns a schedule of step, 2*step, 3*step, ...
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// ExhaustedError is returned when every attempt failed. Err is the last
// failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, the budget runs out or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx, attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("retry aborted after attempt %d: %w", attempt, ctxErr)
		}

		var wait time.Duration
		if p.Delay != nil && (p.ShouldWait == nil || p.ShouldWait(err)) {
			wait = p.Delay(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if wait > 0 {
			if sleepErr := sleep(ctx, wait); sleepErr != nil {
				return fmt.Errorf("retry aborted after attempt %d: %w", attempt, sleepErr)
			}
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: err}
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
