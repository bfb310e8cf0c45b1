// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/lifecycle"
	"github.com/bureau-foundation/credboot/lib/lockfile"
)

const (
	ExitSuccess        = 0
	ExitFailure        = 1
	ExitLockTimeout    = 3
	ExitAuthentication = 4
	ExitSecurity       = 5
	ExitInterrupted    = 130
)

// ExitCodeFor maps err to the exit code contract. An error that
// implements ExitCode() int (cli.ExitError) supplies its own code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	if errors.Is(err, lifecycle.ErrInterrupted) {
		return ExitInterrupted
	}
	if errors.Is(err, lockfile.ErrTimeout) {
		return ExitLockTimeout
	}
	switch fault.KindOf(err) {
	case fault.KindAuthentication:
		return ExitAuthentication
	case fault.KindSecurity:
		return ExitSecurity
	}
	return ExitFailure
}

// Report writes "error: err" and any recovery hint to w.
func Report(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	if hint := fault.HintOf(err); hint != "" {
		fmt.Fprintf(w, "hint: %s\n", hint)
	}
}

// Fatal reports err to stderr and exits with the mapped code.
func Fatal(err error) {
	Report(os.Stderr, err)
	os.Exit(ExitCodeFor(err))
}
