// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package command runs external programs as argument vectors.
//
// Every external tool credboot drives (op, ssh-agent, ssh-add, git,
// ps) goes through a [Runner]. Programs are never started through a
// shell. Standard output and standard error are captured separately,
// each capped at a caller-chosen size so a misbehaving child cannot
// exhaust memory. The child environment is exactly [Spec].Env; the
// parent environment is never inherited implicitly.
//
// Tests substitute [Func] or a scripted fake for [Exec].
package command
