// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only through Advance, Sleep,
// and After. Sleep and After advance the clock by the requested
// duration and return at once. Every requested wait is recorded so
// tests can assert on backoff schedules.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the fake time forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Sleep records d and advances the clock by it.
func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	if d > 0 {
		c.current = c.current.Add(d)
	}
}

// After records d, advances the clock by it, and returns a channel
// that already holds the new time.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.Sleep(d)
	channel := make(chan time.Time, 1)
	channel <- c.Now()
	return channel
}

// Waits returns a copy of every duration passed to Sleep or After.
func (c *FakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}
