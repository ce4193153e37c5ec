package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff produces growing, jittered delays for reconnecting to infrastructure.
// It also works as a gate: after Fail, Allow reports false until the delay has passed.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     func() float64

	mu        sync.Mutex
	current   time.Duration
	attempts  int
	notBefore time.Time
}

func NewBackoff(min, max time.Duration, mult float64) *Backoff {
	return &Backoff{
		minDelay:   min,
		maxDelay:   max,
		multiplier: mult,
		jitter:     rand.Float64,
		current:    min,
	}
}

// WithoutJitter makes delays deterministic
func (b *Backoff) WithoutJitter() *Backoff {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jitter = func() float64 { return 0.5 }
	return b
}

// Next returns the next delay (±20% jitter) and grows the base delay
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextLocked()
}

func (b *Backoff) nextLocked() time.Duration {
	b.attempts++

	jitterFactor := b.jitter()*0.4 - 0.2
	jitter := time.Duration(jitterFactor * float64(b.current))
	wait := max(b.current+jitter, b.minDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)
	return wait
}

// Wait sleeps for the next delay or until ctx is done
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail records a failure at now and closes the gate for the next delay
func (b *Backoff) Fail(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.nextLocked()
	b.notBefore = now.Add(wait)
	return wait
}

// Allow reports whether a new attempt may be made at now
func (b *Backoff) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !now.Before(b.notBefore)
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
	b.notBefore = time.Time{}
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
