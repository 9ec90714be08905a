package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter paces requests
type Limiter interface {
	// Wait blocks until the next request may be sent or ctx is done
	Wait(ctx context.Context) error
	// Reset forgets previous requests so the next Wait returns immediately
	Reset()
}

// FixedDelay spaces requests by a constant delay. The first Wait after
// creation or Reset does not block.
type FixedDelay struct {
	delay time.Duration
	after func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	started bool
	waits   int
}

// NewFixedDelay creates a pacer that waits delay between requests
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{delay: delay, after: time.After}
}

// Wait blocks for the configured delay unless this is the first request
func (f *FixedDelay) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	first := !f.started
	f.started = true
	f.mu.Unlock()

	if first || f.delay <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.after(f.delay):
	}

	f.mu.Lock()
	f.waits++
	f.mu.Unlock()
	return nil
}

// Reset makes the next Wait return immediately
func (f *FixedDelay) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
}

// Delay returns the configured delay
func (f *FixedDelay) Delay() time.Duration {
	return f.delay
}

// Waits returns how many times Wait actually paused
func (f *FixedDelay) Waits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}
