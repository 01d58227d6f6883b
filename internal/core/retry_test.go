package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type tempErr struct{}

func (tempErr) Error() string   { return "temporary" }
func (tempErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransient))
	assert.True(t, IsTransient(fmt.Errorf("write: %w", ErrTransient)))
	assert.True(t, IsTransient(tempErr{}))
	assert.False(t, IsTransient(errors.New("constraint violation")))
	assert.False(t, IsTransient(nil))
}

func TestBackoff(t *testing.T) {
	base := 10 * time.Millisecond
	maxDelay := 50 * time.Millisecond

	assert.Zero(t, backoff(0, base, maxDelay))
	for attempt, want := range map[int]time.Duration{1: 10, 2: 20, 3: 40, 4: 50, 10: 50} {
		d := backoff(attempt, base, maxDelay)
		lo := want * time.Millisecond
		assert.GreaterOrEqual(t, d, lo, "attempt %d", attempt)
		assert.LessOrEqual(t, d, lo+lo/2, "attempt %d", attempt)
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient errors", func(t *testing.T) {
		calls, retries := 0, 0
		err := retry(ctx, 3, time.Millisecond, time.Millisecond, func(int, error) { retries++ }, func() error {
			calls++
			if calls < 3 {
				return ErrTransient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, retries)
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		calls := 0
		err := retry(ctx, 3, time.Millisecond, time.Millisecond, nil, func() error {
			calls++
			return errors.New("bad row")
		})
		assert.EqualError(t, err, "bad row")
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := retry(ctx, 2, time.Millisecond, time.Millisecond, nil, func() error {
			calls++
			return ErrTransient
		})
		assert.ErrorIs(t, err, ErrTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops waiting when context is done", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := retry(cctx, 5, time.Hour, time.Hour, nil, func() error { return ErrTransient })
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, ErrTransient)
	})
}
