package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed start time used by deterministic tests.
var Epoch = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// DeterministicClock is a manually advanced wall clock for tests.
//
// Each call to Now returns the current time and then advances it by Step,
// so successive timestamps are strictly increasing and ordering by time is
// reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewDeterministicClock creates a clock at Epoch that ticks by one
// millisecond per reading.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch, Step: time.Millisecond}
}

// Now returns the current time and advances the clock by Step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.Step)
	return t
}

// Current returns the current time without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset moves the clock back to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
