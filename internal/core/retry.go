package core

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrTransient marks a persistence error worth retrying. Persisters wrap
// connection resets, timeouts and similar errors with it.
var ErrTransient = errors.New("transient error")

// Retry defaults for row persistence.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay  = 5 * time.Second
)

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// backoff returns base * 2^(attempt-1), capped at maxDelay, plus up to 50%
// jitter. attempt starts at 1.
func backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int64N(half + 1))
	}
	return d
}

// retry calls fn until it succeeds, fails permanently or maxRetries retries
// have been spent. onRetry is called before each wait.
func retry(ctx context.Context, maxRetries int, base, maxDelay time.Duration, onRetry func(attempt int, err error), fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !IsTransient(err) || attempt >= maxRetries {
			return err
		}
		if onRetry != nil {
			onRetry(attempt+1, err)
		}

		timer := time.NewTimer(backoff(attempt+1, base, maxDelay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}
