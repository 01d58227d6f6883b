package core

// run_limiter.go bounds how many import runs execute at once.
//
// Each run holds one slot of a channel semaphore for its whole lifetime. A
// caller that finds every slot taken waits up to maxWait before giving up
// with ErrTooManyRuns. WaitForDrain lets shutdown wait for running imports.

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTooManyRuns is returned when every run slot stayed busy for the whole
// wait period.
var ErrTooManyRuns = errors.New("too many concurrent import runs, please try again later")

// DefaultMaxConcurrentRuns is the default limit for parallel runs.
const DefaultMaxConcurrentRuns = 2

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// drainPollInterval is how often WaitForDrain checks for idle.
const drainPollInterval = 25 * time.Millisecond

// RunLimiter hands out run slots.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu     sync.Mutex
	seq    uint64
	active map[uuid.UUID]uint64 // run -> acquisition sequence
}

// NewRunLimiter creates a limiter for at most maxConcurrent runs.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		active:  make(map[uuid.UUID]uint64),
	}
}

// Acquire takes a slot for runID. The caller must Release it when the run
// ends.
func (l *RunLimiter) Acquire(ctx context.Context, runID uuid.UUID) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.track(runID)
		return nil
	case <-timer.C:
		return ErrTooManyRuns
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot without waiting.
func (l *RunLimiter) TryAcquire(runID uuid.UUID) bool {
	select {
	case l.slots <- struct{}{}:
		l.track(runID)
		return true
	default:
		return false
	}
}

func (l *RunLimiter) track(runID uuid.UUID) {
	l.mu.Lock()
	l.seq++
	l.active[runID] = l.seq
	l.mu.Unlock()
}

// Release frees the slot held by runID. Releasing an unknown run is a no-op.
func (l *RunLimiter) Release(runID uuid.UUID) {
	l.mu.Lock()
	_, ok := l.active[runID]
	delete(l.active, runID)
	l.mu.Unlock()

	if ok {
		<-l.slots
	}
}

// ActiveCount returns the number of runs holding a slot.
func (l *RunLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// ActiveRuns returns the IDs of runs holding a slot, oldest first.
func (l *RunLimiter) ActiveRuns() []uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(l.active))
	for id := range l.active {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return cmp.Compare(l.active[a], l.active[b])
	})
	return ids
}

// MaxConcurrent returns the slot count.
func (l *RunLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no run holds a slot or ctx is done.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for l.ActiveCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// RunLimiterStatus is a snapshot of the limiter for monitoring.
type RunLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() RunLimiterStatus {
	active := l.ActiveCount()
	return RunLimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
