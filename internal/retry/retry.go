// Package retry runs an operation under a bounded attempt policy.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted wraps the last error once every attempt failed and no
// fallback absorbed it.
var ErrExhausted = errors.New("retry attempts exhausted")

// Backoff returns the pause after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// Fixed pauses d between attempts.
func Fixed(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Exponential doubles base after each attempt, capped at max.
func Exponential(base, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return d
	}
}

// Policy bounds an operation that may race an eventually consistent write.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable filters errors worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// Fallback runs once after the final failure. Its return value replaces
	// the error returned by Do.
	Fallback func(ctx context.Context, err error) error

	// Sleep overrides the pause between attempts. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, the policy gives up, or ctx ends.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = wait
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			break
		}
		if attempt == attempts {
			break
		}
		var d time.Duration
		if p.Backoff != nil {
			d = p.Backoff(attempt)
		}
		if err := sleep(ctx, d); err != nil {
			lastErr = err
			break
		}
	}

	if p.Fallback != nil {
		return p.Fallback(ctx, lastErr)
	}
	return errors.Join(ErrExhausted, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
