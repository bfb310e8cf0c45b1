// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cleanup tracks everything a run must destroy before the
// process exits: temporary files, temporary directories, and in-memory
// secrets.
//
// A [Registry] is created at the start of a run and its Run method is
// called on every exit path (normal return, error, signal). Run executes
// exactly once; later calls are no-ops. Cleanup is best-effort but
// complete: a failure on one item is logged and the remaining items
// are still processed.
package cleanup
