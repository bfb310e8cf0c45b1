// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit bounds how often credboot calls the vault.
//
// A [Limiter] keeps a sliding window of call timestamps per logical
// operation ("whoami", "item get", "item list"). [Limiter.Take] records
// a call when the window has room and otherwise fails immediately with
// a fault.RateLimited error; callers never queue. Every attempt of a
// retried operation takes its own slot, so retries count against the
// same budget as first attempts.
package ratelimit
