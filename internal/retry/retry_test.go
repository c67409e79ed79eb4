package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingSleep(pauses *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*pauses = append(*pauses, d)
		return nil
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	var pauses []time.Duration
	p := Policy{MaxAttempts: 3, Backoff: Fixed(500 * time.Millisecond), Sleep: recordingSleep(&pauses)}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, pauses)
}

func TestDoExhaustsExactlyMaxAttempts(t *testing.T) {
	var pauses []time.Duration
	p := Policy{MaxAttempts: 3, Backoff: Fixed(500 * time.Millisecond), Sleep: recordingSleep(&pauses)}
	boom := errors.New("row missing")

	var seen []int
	err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		return boom
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, pauses)
}

func TestDoFallbackReplacesError(t *testing.T) {
	var fallbackErr error
	p := Policy{
		MaxAttempts: 2,
		Sleep:       recordingSleep(new([]time.Duration)),
		Fallback: func(_ context.Context, err error) error {
			fallbackErr = err
			return nil
		},
	}
	boom := errors.New("boom")

	err := p.Do(context.Background(), func(context.Context, int) error { return boom })
	require.NoError(t, err)
	assert.Equal(t, boom, fallbackErr)
}

func TestDoSkipsNonRetryable(t *testing.T) {
	fatal := errors.New("config")
	p := Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:       recordingSleep(new([]time.Duration)),
	}

	calls := 0
	err := p.Do(context.Background(), func(context.Context, int) error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContextDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, Backoff: Fixed(time.Hour)}

	calls := 0
	err := p.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponential(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 400*time.Millisecond, b(3))
	assert.Equal(t, time.Second, b(10))
}
