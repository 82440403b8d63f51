package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the maximum number of calls; values below 1 mean one.
	Attempts int
	// Delay separates consecutive attempts.
	Delay time.Duration
	// OnRetry, when set, sees every failed attempt (1-based) and its error.
	OnRetry func(attempt int, err error)
}

// Fixed returns a policy of attempts calls spaced by delay.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

type stopError struct{ err error }

func (e stopError) Error() string { return "non-retryable: " + e.err.Error() }
func (e stopError) Unwrap() error { return e.err }

// NonRetryable marks err so that Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err}
}

// IsNonRetryable reports whether err was marked with NonRetryable.
func IsNonRetryable(err error) bool {
	var s stopError
	return errors.As(err, &s)
}

// Do calls fn until it succeeds, returns a NonRetryable error, ctx ends or
// the policy's attempts are used up. The last error is wrapped in the result.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.Delay < 0 {
		return fmt.Errorf("retry: negative delay %s", p.Delay)
	}
	attempts := max(p.Attempts, 1)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		switch {
		case IsNonRetryable(err):
			return err
		case attempt == attempts:
			return fmt.Errorf("retry failed after %d attempts: %w", attempts, err)
		case ctx.Err() != nil:
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}

		if timer == nil {
			timer = time.NewTimer(p.Delay)
		} else {
			timer.Reset(p.Delay)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled waiting for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}
}
