// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that wait or measure (the instance lock's backoff, the
// vault client's retry delay and rate window, the key loader's batch
// pause) take a Clock instead of calling the time package. Production
// wiring uses [Real]. Tests use [Fake], whose Sleep and After advance
// the fake time immediately instead of blocking, so retry and backoff
// loops run instantly and deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	limiter := ratelimit.New(20, time.Minute, fake)
//	fake.Advance(61 * time.Second) // next window
package clock
