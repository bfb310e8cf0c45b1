// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"time"

	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/fault"
)

// Defaults for vault calls.
const (
	DefaultLimit  = 20
	DefaultWindow = time.Minute
)

// Limiter is a per-operation sliding window limiter. Safe for
// concurrent use.
type Limiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu    sync.Mutex
	calls map[string][]time.Time
}

// New returns a Limiter allowing limit calls per window for each
// operation. Non-positive arguments select the defaults; a nil clock
// uses the wall clock.
func New(limit int, window time.Duration, clk clock.Clock) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		limit:  limit,
		window: window,
		clock:  clk,
		calls:  make(map[string][]time.Time),
	}
}

// Allow records a call for operation and reports whether it fits in
// the current window. A rejected call is not recorded.
func (l *Limiter) Allow(operation string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	recent := l.prune(operation, now)
	if len(recent) >= l.limit {
		return false
	}
	l.calls[operation] = append(recent, now)
	return true
}

// Take is Allow returning a classified error on rejection.
func (l *Limiter) Take(operation string) error {
	if l.Allow(operation) {
		return nil
	}
	return fault.RateLimited("vault rate limit reached for %q: %d calls per %s", operation, l.limit, l.window).
		WithHint("wait " + l.RetryAfter(operation).Round(time.Second).String() + " and retry")
}

// Remaining returns how many calls operation has left in the window.
func (l *Limiter) Remaining(operation string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - len(l.prune(operation, l.clock.Now()))
}

// RetryAfter returns how long until operation gets a free slot. Zero
// when one is free now.
func (l *Limiter) RetryAfter(operation string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	recent := l.prune(operation, now)
	if len(recent) < l.limit {
		return 0
	}
	return recent[0].Add(l.window).Sub(now)
}

// prune drops timestamps that left the window and returns the rest.
// Caller holds mu.
func (l *Limiter) prune(operation string, now time.Time) []time.Time {
	calls := l.calls[operation]
	cutoff := now.Add(-l.window)
	index := 0
	for index < len(calls) && !calls[index].After(cutoff) {
		index++
	}
	if index > 0 {
		calls = append(calls[:0], calls[index:]...)
		l.calls[operation] = calls
	}
	return calls
}
