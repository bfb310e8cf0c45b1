// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash fingerprints executables.
//
// credboot records the SHA256 of every external binary it trusts with
// secrets (the op CLI in particular) in the audit stream, so a
// replaced binary shows up as a changed digest between runs.
package binhash
