package scenetwin

import (
	"sync"
	"time"
)

// A Clock supplies the authoritative time of a Scene. Consecutive calls to Now
// never go backwards.
//
// The Ingestor reads the clock once per tick, so every sample committed during
// that tick carries the same timestamp.
type Clock interface {
	Now() time.Time
}

// SystemClock returns a Clock that follows the wall clock of the host, clamped
// so that it never reports a time earlier than one it has already reported
// (e.g. after an NTP step).
func SystemClock() Clock {
	return &monotonicClock{now: time.Now}
}

type monotonicClock struct {
	now  func() time.Time
	mu   sync.Mutex
	last time.Time
}

func (c *monotonicClock) Now() time.Time {
	t := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.last) {
		return c.last
	}
	c.last = t
	return t
}

// SimClock is a manually advanced Clock, for simulations and replays where
// time is driven by the caller rather than by the host.
//
// The zero value reports the zero time.Time until it is set or advanced.
// SimClock is safe for concurrent use.
type SimClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimClock returns a SimClock reporting start.
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *SimClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// Set moves the clock to t, unless t is earlier than the current time, in
// which case the clock is left untouched. It reports whether the clock moved.
func (c *SimClock) Set(t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		return false
	}
	c.now = t
	return true
}
