// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package mock

import (
	"sync"
	"time"
)

// Clock is a virtual clock. After advances the clock by the requested duration and fires at once,
// so code that waits on it runs without real delays.
type Clock struct {
	// Block makes After return a channel that never fires, for testing cancellation.
	Block bool

	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

// NewClock returns a Clock set to now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the virtual time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After records the wait and advances the virtual time by d.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	if c.Block {
		return ch
	}
	c.now = c.now.Add(d)
	ch <- c.now
	return ch
}

// Advance moves the virtual time forward by d without recording a wait.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Waits returns the durations passed to After, in order.
func (c *Clock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}
