// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault classifies the failures of a credential bootstrap run.
//
// Every error that crosses a component boundary is an [*Error] carrying
// a [Kind]. The kind decides what happens next: validation problems are
// recovered locally, authentication and security failures are fatal,
// network failures on idempotent calls are retried, rate limiting is
// surfaced immediately. [Retryable] and [KindOf] walk wrapped error
// chains so callers can decide without string matching.
//
// An Error may carry a recovery hint (retry, check connectivity,
// verify token) that the CLI prints under the error line. Neither the
// message nor the hint may contain secret values.
package fault
