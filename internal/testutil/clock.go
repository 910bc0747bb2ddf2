// Package testutil provides shared helpers for tests.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe manual wall clock for tests.
//
// Update records carry wall-clock timestamps; tests that exercise
// session aggregation or history bounds pin them with a Clock instead
// of sleeping. Its Now method plugs directly into the replica and
// coordinator clock options.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock pinned at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// NewClockAt creates a clock pinned at a unix-millisecond instant.
func NewClockAt(ms int64) *Clock {
	return NewClock(time.UnixMilli(ms))
}

// Now returns the pinned instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set pins the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SetMillis pins the clock to a unix-millisecond instant.
func (c *Clock) SetMillis(ms int64) {
	c.Set(time.UnixMilli(ms))
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
