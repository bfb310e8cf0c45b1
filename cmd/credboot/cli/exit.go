// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "strconv"

// ExitError ends the process with Code after the command has already
// reported the problem itself, so main prints nothing further. doctor
// returns one after a checklist with failures.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "exit code " + strconv.Itoa(e.Code)
}

// ExitCode satisfies the interface process.ExitCodeFor consults.
func (e *ExitError) ExitCode() int {
	return e.Code
}
