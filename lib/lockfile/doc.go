// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockfile enforces one concurrent credboot run per user.
//
// The lock is a small file holding the owner's process id and
// acquisition time, created with O_CREATE|O_EXCL so creation is atomic.
// A [Lock] moves through Unlocked → Acquiring → Held → Released. When
// the file already exists, Acquire inspects the record: a dead owner's
// lock is reclaimed, a live owner's lock is waited on with exponential
// backoff until the timeout, after which Acquire fails with an error
// wrapping [ErrTimeout]. The number of attempts is bounded by a count
// derived from the timeout, so a sequence of reclaim races cannot loop
// forever.
//
// Release removes the file only when the record still names the
// current process. After a stale reclaim race a newer instance may own
// the path, and its lock must survive.
package lockfile
