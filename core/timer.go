package core

import (
	"sync/atomic"
	"time"
)

// Clock supplies the millisecond tick the superloops run on. The counter
// wraps after ~49 days; compare with Elapsed/TimeReached.
type Clock interface {
	Millis() uint32
}

// SystemClock counts milliseconds since it was created
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock starting at zero
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Millis returns milliseconds since creation
func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// ManualClock is advanced explicitly (simulation and tests)
type ManualClock struct {
	now atomic.Uint32
}

// Millis returns the current manual time
func (c *ManualClock) Millis() uint32 {
	return c.now.Load()
}

// Advance moves the clock forward
func (c *ManualClock) Advance(ms uint32) uint32 {
	return c.now.Add(ms)
}

// Set sets the current time
func (c *ManualClock) Set(ms uint32) {
	c.now.Store(ms)
}

// Elapsed returns now - since, correct across counter wrap
func Elapsed(now, since uint32) uint32 {
	return now - since
}

// TimeReached reports whether now is at or past deadline
func TimeReached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}
