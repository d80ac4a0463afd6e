package upload

import (
	"context"
	"math/rand"
	"time"
)

// Default retry delay bounds for transient upload failures.
const (
	DefaultBackoffMin = time.Second
	DefaultBackoffMax = 60 * time.Second

	maxJitter = time.Second
)

// Backoff computes retry delays that double after each use, with a random
// jitter term, bounded by [min, max].
type Backoff struct {
	min      time.Duration
	max      time.Duration
	interval time.Duration
}

// NewBackoff creates a backoff with the given bounds. Non-positive values
// fall back to the defaults.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = DefaultBackoffMin
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, interval: min}
}

// Next returns the delay to wait before the next attempt and grows the
// interval for the attempt after that: doubled, plus jitter in [0, 1s),
// capped at the maximum.
func (b *Backoff) Next() time.Duration {
	current := b.interval

	grown := b.interval*2 + time.Duration(rand.Int63n(int64(maxJitter)))
	if grown > b.max {
		grown = b.max
	}
	b.interval = grown

	return current
}

// Reset returns the delay to its minimum. Called after any successful
// content transfer.
func (b *Backoff) Reset() {
	b.interval = b.min
}

// Scheduler defers actions by its backoff's current delay.
type Scheduler struct {
	backoff *Backoff
}

// NewScheduler creates a scheduler around the given backoff.
func NewScheduler(backoff *Backoff) *Scheduler {
	return &Scheduler{backoff: backoff}
}

// Schedule waits for the current backoff delay, grows it, then runs action on
// the calling goroutine. Exactly one run happens per call; the caller
// re-schedules on further failures. When ctx is cancelled during the wait the
// action is not run and ctx's error is returned.
func (s *Scheduler) Schedule(ctx context.Context, action func()) error {
	timer := time.NewTimer(s.backoff.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	action()
	return nil
}

// Reset returns the underlying backoff to its minimum delay.
func (s *Scheduler) Reset() {
	s.backoff.Reset()
}
