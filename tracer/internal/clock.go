package internal

import (
	"sync"
	"time"
)

// Clock provides the current time. Rate limiters and the profiler take one so
// tests can drive time explicitly.
type Clock interface {
	Now() time.Time
}

// DefaultClock reads the wall clock.
type DefaultClock struct{}

// Now returns time.Now().
func (DefaultClock) Now() time.Time {
	return time.Now()
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
