// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// DefaultOutputLimit caps each captured stream when Spec.OutputLimit
// is zero.
const DefaultOutputLimit = 1 << 20

const waitDelay = 2 * time.Second

// ErrOutputLimit is returned (wrapped) when a stream exceeded the
// limit. The captured prefix is still returned.
var ErrOutputLimit = errors.New("command output exceeded limit")

// Spec describes one invocation.
type Spec struct {
	// Path is the program. A bare name is resolved with exec.LookPath
	// against this process's PATH, not the PATH entry of Env.
	Path string
	Args []string

	// Env is the complete child environment. Nil means an empty one.
	Env []string

	Dir   string
	Stdin io.Reader

	// OutputLimit caps stdout and stderr independently.
	OutputLimit int
}

// String renders the argv for logs. Arguments are not quoted.
func (s Spec) String() string {
	return strings.Join(append([]string{s.Path}, s.Args...), " ")
}

// Result is the outcome of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// StderrText returns stderr trimmed of surrounding whitespace.
func (r Result) StderrText() string {
	return strings.TrimSpace(string(r.Stderr))
}

// Runner starts a program and waits for it. A non-zero exit returns
// the Result together with an *ExitError.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// Func adapts a function to Runner.
type Func func(ctx context.Context, spec Spec) (Result, error)

func (f Func) Run(ctx context.Context, spec Spec) (Result, error) { return f(ctx, spec) }

// ExitError reports a non-zero exit status.
type ExitError struct {
	Spec     Spec
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Spec.Path, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Spec.Path, e.ExitCode, e.Stderr)
}

// Exec runs programs with os/exec.
type Exec struct{}

// Run implements Runner. When ctx ends the child is killed and
// ctx.Err() is returned (wrapped) so callers can tell a timeout from
// a failure.
func (Exec) Run(ctx context.Context, spec Spec) (Result, error) {
	limit := spec.OutputLimit
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// A killed child's own children may hold the pipes open.
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	result := Result{Stdout: stdout.buf.Bytes(), Stderr: stderr.buf.Bytes()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s: %w", spec.Path, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, &ExitError{Spec: spec, ExitCode: result.ExitCode, Stderr: result.StderrText()}
	}
	if err != nil {
		return result, fmt.Errorf("running %s: %w", spec.Path, err)
	}
	if stdout.overflow || stderr.overflow {
		return result, fmt.Errorf("%s: %w (%d bytes)", spec.Path, ErrOutputLimit, limit)
	}
	return result, nil
}

// cappedBuffer keeps the first limit bytes and discards the rest.
// Writes never fail so the child is not killed by EPIPE. buf must stay
// unexported: a promoted ReadFrom lets io.Copy skip Write.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.overflow = b.overflow || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.overflow = true
		b.buf.Write(p[:room])
		return len(p), nil
	}
	return b.buf.Write(p)
}
