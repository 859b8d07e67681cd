// Package clock lets the engine read "now" through an interface so tests can
// pin time to exact window boundaries.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by time.Now.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

// FakeClock stands still until Set or Advance is called. Safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// Fake returns a FakeClock at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeUnix returns a FakeClock at the given Unix second.
func FakeUnix(sec int64) *FakeClock {
	return Fake(time.Unix(sec, 0).UTC())
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set moves the clock to t, forwards or backwards.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// SetUnix moves the clock to the given Unix second.
func (c *FakeClock) SetUnix(sec int64) {
	c.Set(time.Unix(sec, 0).UTC())
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// UnixNow reads c as non-negative Unix seconds.
func UnixNow(c Clock) uint64 {
	s := c.Now().Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}
