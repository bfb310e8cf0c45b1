// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/fault"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *clock.FakeClock) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(limit, window, fake), fake
}

func TestTake_BoundsBurst(t *testing.T) {
	const limit = 20
	limiter, _ := newTestLimiter(limit, time.Minute)

	succeeded, rejected := 0, 0
	for range limit + 5 {
		err := limiter.Take("item get")
		switch {
		case err == nil:
			succeeded++
		case fault.Is(err, fault.KindRateLimited):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != limit {
		t.Errorf("succeeded = %d, want %d", succeeded, limit)
	}
	if rejected != 5 {
		t.Errorf("rejected = %d, want 5", rejected)
	}
}

func TestTake_RejectionCarriesHint(t *testing.T) {
	limiter, _ := newTestLimiter(1, time.Minute)
	if err := limiter.Take("whoami"); err != nil {
		t.Fatal(err)
	}
	err := limiter.Take("whoami")
	if err == nil {
		t.Fatal("second call should be rejected")
	}
	if hint := fault.HintOf(err); hint != "wait 1m0s and retry" {
		t.Errorf("hint = %q", hint)
	}
	if fault.Retryable(err) {
		t.Error("rate-limit errors must not be retried")
	}
}

func TestAllow_WindowSlides(t *testing.T) {
	limiter, fake := newTestLimiter(2, 10*time.Second)

	if !limiter.Allow("op") {
		t.Fatal("first call rejected")
	}
	fake.Advance(4 * time.Second)
	if !limiter.Allow("op") {
		t.Fatal("second call rejected")
	}
	if limiter.Allow("op") {
		t.Fatal("third call inside the window accepted")
	}

	// The first call leaves the window at t=10s; the second stays
	// until t=14s.
	fake.Advance(6 * time.Second)
	if got := limiter.Remaining("op"); got != 1 {
		t.Errorf("Remaining = %d, want 1", got)
	}
	if !limiter.Allow("op") {
		t.Fatal("call after the oldest expired rejected")
	}
	if got := limiter.RetryAfter("op"); got != 4*time.Second {
		t.Errorf("RetryAfter = %v, want 4s", got)
	}
}

func TestAllow_OperationsAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(1, time.Minute)
	if !limiter.Allow("whoami") {
		t.Fatal("whoami rejected")
	}
	if !limiter.Allow("item list") {
		t.Error("item list should have its own window")
	}
	if limiter.Allow("whoami") {
		t.Error("whoami should be exhausted")
	}
}

func TestNew_Defaults(t *testing.T) {
	limiter := New(0, 0, nil)
	if limiter.limit != DefaultLimit || limiter.window != DefaultWindow {
		t.Errorf("defaults = %d per %v", limiter.limit, limiter.window)
	}
}

func TestAllow_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(50, time.Minute)
	var (
		group   sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		group.Add(1)
		go func() {
			defer group.Done()
			if limiter.Allow("item get") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	group.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}
