// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package health runs credboot's post-setup and doctor checks.
//
// Each [Check] returns a [Result] with a status, a message, and
// optionally a fix closure that "credboot doctor --fix" can execute.
// [Run] executes checks concurrently with a concurrency limit and a
// per-check timeout; a check that overruns is recorded as failed and
// never cancels its siblings. The package provides:
//
//   - [Result] with constructors [Pass], [Fail], [FailWithFix], [Warn], [Skip]
//   - [Run] and the aggregated [Report]
//   - [ExecuteFixes] for running fix closures
//   - [PrintChecklist] for human-readable output
//
// Concrete checks for identity, agent, signing, and vault state live
// in checks.go.
package health
