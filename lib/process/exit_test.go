// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/lifecycle"
	"github.com/bureau-foundation/credboot/lib/lockfile"
)

type codedError struct{ code int }

func (e codedError) Error() string { return "coded" }
func (e codedError) ExitCode() int { return e.code }

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"lock timeout", fmt.Errorf("acquiring: %w", lockfile.ErrTimeout), ExitLockTimeout},
		{"authentication", fmt.Errorf("whoami: %w", fault.Authentication("denied")), ExitAuthentication},
		{"security", fault.Security("world-writable"), ExitSecurity},
		{"network", fault.Network("timeout"), ExitFailure},
		{"interrupted", fmt.Errorf("loading keys: %w", lifecycle.ErrInterrupted), ExitInterrupted},
		{"explicit code", fmt.Errorf("wrapped: %w", codedError{code: 130}), 130},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ExitCodeFor(test.err); got != test.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, test.want)
			}
		})
	}
}

func TestReport_IncludesHint(t *testing.T) {
	var output bytes.Buffer
	Report(&output, fault.Network("vault unreachable"))

	text := output.String()
	if !strings.HasPrefix(text, "error: vault unreachable\n") {
		t.Errorf("unexpected report: %q", text)
	}
	if !strings.Contains(text, "hint: ") {
		t.Errorf("report should include the recovery hint: %q", text)
	}
}
