// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process owns the credboot exit code contract and the two raw
// I/O paths that exist outside the structured logger: fatal error
// reporting before the logger is set up, and the final os.Exit.
//
// Exit codes:
//
//	0    success
//	1    generic failure
//	3    instance lock timeout
//	4    vault authentication failure
//	5    security violation
//	130  interrupted by a signal
package process
