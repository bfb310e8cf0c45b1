// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return path
}

func TestExec_SeparatesStreams(t *testing.T) {
	sh := requireShell(t)
	result, err := Exec{}.Run(context.Background(), Spec{
		Path: sh,
		Args: []string{"-c", "printf out; printf err >&2"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(result.Stdout) != "out" || string(result.Stderr) != "err" {
		t.Errorf("stdout=%q stderr=%q", result.Stdout, result.Stderr)
	}
}

func TestExec_EnvironmentIsExplicit(t *testing.T) {
	sh := requireShell(t)
	t.Setenv("CREDBOOT_LEAK_CHECK", "parent")
	result, err := Exec{}.Run(context.Background(), Spec{
		Path: sh,
		Args: []string{"-c", `printf "%s|%s" "$CREDBOOT_LEAK_CHECK" "$CHILD_ONLY"`},
		Env:  []string{"CHILD_ONLY=yes"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := string(result.Stdout); got != "|yes" {
		t.Errorf("child saw %q, want only the explicit environment", got)
	}
}

func TestExec_ExitError(t *testing.T) {
	sh := requireShell(t)
	result, err := Exec{}.Run(context.Background(), Spec{
		Path: sh,
		Args: []string{"-c", "echo 'not signed in' >&2; exit 6"},
	})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.ExitCode != 6 || result.ExitCode != 6 {
		t.Errorf("exit code = %d/%d, want 6", exitErr.ExitCode, result.ExitCode)
	}
	if exitErr.Stderr != "not signed in" {
		t.Errorf("stderr = %q", exitErr.Stderr)
	}
}

func TestExec_Timeout(t *testing.T) {
	sh := requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Exec{}.Run(ctx, Spec{
		Path: sh,
		Args: []string{"-c", "exec sleep 5"},
		Env:  []string{"PATH=" + os.Getenv("PATH")},
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestExec_OutputLimit(t *testing.T) {
	sh := requireShell(t)
	result, err := Exec{}.Run(context.Background(), Spec{
		Path:        sh,
		Args:        []string{"-c", "printf 0123456789abcdef"},
		OutputLimit: 10,
	})
	if !errors.Is(err, ErrOutputLimit) {
		t.Fatalf("err = %v, want ErrOutputLimit", err)
	}
	if string(result.Stdout) != "0123456789" {
		t.Errorf("captured %q, want the first 10 bytes", result.Stdout)
	}
}

func TestExec_OutputLimitLargeStream(t *testing.T) {
	sh := requireShell(t)
	result, err := Exec{}.Run(context.Background(), Spec{
		Path:        sh,
		Args:        []string{"-c", "head -c 5000000 /dev/zero"},
		Env:         []string{"PATH=/usr/bin:/bin"},
		OutputLimit: 1024,
	})
	if !errors.Is(err, ErrOutputLimit) {
		t.Fatalf("err = %v, want ErrOutputLimit", err)
	}
	if len(result.Stdout) != 1024 {
		t.Errorf("captured %d bytes, want 1024", len(result.Stdout))
	}
}

func TestCappedBuffer_CopyHonorsLimit(t *testing.T) {
	buffer := &cappedBuffer{limit: 8}
	if _, err := io.Copy(buffer, strings.NewReader(strings.Repeat("x", 4096))); err != nil {
		t.Fatal(err)
	}
	if buffer.buf.Len() != 8 || !buffer.overflow {
		t.Errorf("len = %d overflow = %v, want 8 and true", buffer.buf.Len(), buffer.overflow)
	}
}

func TestExec_MissingProgram(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Spec{Path: "/nonexistent/credboot-test-binary"})
	if err == nil {
		t.Fatal("expected an error")
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		t.Error("a program that never started is not an ExitError")
	}
}

func TestSpecString(t *testing.T) {
	spec := Spec{Path: "op", Args: []string{"item", "get", "abc"}}
	if got := spec.String(); got != "op item get abc" {
		t.Errorf("String = %q", got)
	}
	if !strings.HasPrefix(Spec{Path: "git"}.String(), "git") {
		t.Error("String should start with the path")
	}
}

func TestFunc(t *testing.T) {
	var seen Spec
	runner := Func(func(_ context.Context, spec Spec) (Result, error) {
		seen = spec
		return Result{Stdout: []byte("ok")}, nil
	})
	result, err := runner.Run(context.Background(), Spec{Path: "ssh-add", Args: []string{"-l"}})
	if err != nil || string(result.Stdout) != "ok" || seen.Path != "ssh-add" {
		t.Errorf("Func adapter: result=%+v err=%v seen=%+v", result, err, seen)
	}
}
