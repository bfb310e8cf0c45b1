// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which credboot build is running.
//
// Release builds inject [Version], [GitCommit], [GitDirty] and
// [BuildTime] with -ldflags -X; development builds and tests see the
// defaults. [Info] and [Full] format them for "credboot version", and
// [Short] is what the audit stream records.
//
// [SelfDigest] hashes the running binary. Each run_started audit event
// carries it, so an audit line can be matched to the exact executable
// that touched the user's keys.
package version
