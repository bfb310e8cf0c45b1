// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/credboot/cmd/credboot/cli"
	"github.com/bureau-foundation/credboot/lib/bootstrap"
	"github.com/bureau-foundation/credboot/lib/command"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/health"
	"github.com/bureau-foundation/credboot/lib/process"
	"github.com/bureau-foundation/credboot/lib/sshagent"
	"github.com/bureau-foundation/credboot/lib/testutil"
)

// host is a user account under temp directories with a fake ssh-agent
// and git. There is no op on PATH.
type host struct {
	env    bootstrap.Environment
	socket string

	mu     sync.Mutex
	git    map[string]string
	spawns int

	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newHost(t *testing.T, environ ...string) *host {
	t.Helper()
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	runtime := filepath.Join(root, "runtime")
	for _, dir := range []string{bin, runtime} {
		if err := os.Mkdir(dir, 0o700); err != nil {
			t.Fatal(err)
		}
	}
	socket, _ := testutil.ServeAgent(t)
	home := filepath.Join(root, "home")
	return &host{
		socket: socket,
		git:    make(map[string]string),
		env: bootstrap.Environment{
			Environ:    append([]string{"PATH=" + bin, "HOME=" + home}, environ...),
			UID:        os.Getuid(),
			Username:   "ada",
			Hostname:   "workstation",
			Home:       home,
			WorkDir:    root,
			ConfigHome: filepath.Join(root, "config"),
			StateHome:  filepath.Join(root, "state"),
			RuntimeDir: runtime,
		},
	}
}

func (h *host) deps() Deps {
	return Deps{
		Stdout:      &h.stdout,
		Stderr:      &h.stderr,
		Environment: func() (bootstrap.Environment, error) { return h.env, nil },
		Runner:      command.Func(h.run),
		Exit:        func(code int) { panic(fmt.Sprintf("unexpected exit %d", code)) },
	}
}

func (h *host) run(ctx context.Context, spec command.Spec) (command.Result, error) {
	switch filepath.Base(spec.Path) {
	case "ssh-agent":
		h.mu.Lock()
		h.spawns++
		h.mu.Unlock()
		stdout := fmt.Sprintf("SSH_AUTH_SOCK=%s; export SSH_AUTH_SOCK;\nSSH_AGENT_PID=%d; export SSH_AGENT_PID;\n", h.socket, os.Getpid())
		return command.Result{Stdout: []byte(stdout)}, nil
	case "git":
		args := spec.Args[1:]
		if args[0] == "--file" {
			args = args[2:]
		} else {
			args = args[1:]
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if args[0] == "--get" {
			value, ok := h.git[args[1]]
			if !ok {
				return command.Result{ExitCode: 1}, &command.ExitError{Spec: spec, ExitCode: 1}
			}
			return command.Result{Stdout: []byte(value + "\n")}, nil
		}
		if args[0] == "--replace-all" {
			h.git[args[len(args)-2]] = args[len(args)-1]
			return command.Result{}, nil
		}
	}
	return command.Result{ExitCode: 127}, fmt.Errorf("unexpected command %s", spec.Path)
}

func (h *host) execute(t *testing.T, args ...string) error {
	t.Helper()
	return Root(h.deps()).Execute(context.Background(), args)
}

func TestRoot_Help(t *testing.T) {
	h := newHost(t)
	if err := h.execute(t, "--help"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, name := range []string{"setup", "doctor", "env", "version"} {
		if !strings.Contains(h.stderr.String(), name) {
			t.Errorf("help does not list %q:\n%s", name, h.stderr.String())
		}
	}
}

func TestEnv_PrintsEnvironmentAgent(t *testing.T) {
	h := newHost(t)
	h.env.Environ = append(h.env.Environ, "SSH_AUTH_SOCK="+h.socket)

	if err := h.execute(t, "env"); err != nil {
		t.Fatalf("env: %v", err)
	}
	want := "SSH_AUTH_SOCK=" + shellQuote(h.socket) + "; export SSH_AUTH_SOCK;\n"
	if h.stdout.String() != want {
		t.Errorf("stdout = %q, want %q", h.stdout.String(), want)
	}
}

func TestEnv_NoAgent(t *testing.T) {
	h := newHost(t)
	err := h.execute(t, "env")
	if !errors.Is(err, sshagent.ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if fault.HintOf(err) == "" {
		t.Error("missing recovery hint")
	}
	if h.spawns != 0 {
		t.Errorf("env spawned %d agents", h.spawns)
	}
	if h.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want nothing", h.stdout.String())
	}
}

func TestDoctor_JSON(t *testing.T) {
	h := newHost(t)
	h.env.Environ = append(h.env.Environ, "SSH_AUTH_SOCK="+h.socket)
	h.git["user.name"] = "Ada Lovelace"
	h.git["user.email"] = "ada@example.com"

	err := h.execute(t, "doctor", "--json")
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != process.ExitFailure {
		t.Fatalf("err = %v, want exit code 1 (no vault CLI)", err)
	}

	var report health.Report
	if err := json.Unmarshal(h.stdout.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, h.stdout.String())
	}
	statuses := make(map[string]health.Status)
	for _, result := range report.Results {
		statuses[result.Name] = result.Status
	}
	want := map[string]health.Status{
		"vault session":  health.StatusFail,
		"git identity":   health.StatusPass,
		"ssh agent":      health.StatusWarn,
		"commit signing": health.StatusSkip,
	}
	for name, status := range want {
		if statuses[name] != status {
			t.Errorf("%s = %q, want %q", name, statuses[name], status)
		}
	}
	if report.Failed != 1 {
		t.Errorf("failed = %d, want 1", report.Failed)
	}
}

func TestDoctor_FixStartsAgent(t *testing.T) {
	h := newHost(t)

	err := h.execute(t, "doctor", "--fix")
	if err == nil {
		t.Fatal("doctor passed without a vault CLI")
	}
	if h.spawns != 1 {
		t.Errorf("spawns = %d, want 1", h.spawns)
	}
	output := h.stdout.String()
	if !strings.Contains(output, "[FIXED]  ssh agent") {
		t.Errorf("agent not reported fixed:\n%s", output)
	}
	if _, err := os.Stat(filepath.Join(h.env.StateHome, bootstrap.AppName, sshagent.DescriptorName)); err != nil {
		t.Errorf("descriptor not written: %v", err)
	}
}

func TestDoctor_WithoutFixDoesNotSpawn(t *testing.T) {
	h := newHost(t)
	_ = h.execute(t, "doctor")
	if h.spawns != 0 {
		t.Errorf("spawns = %d, want 0", h.spawns)
	}
	if !strings.Contains(h.stdout.String(), `credboot doctor --fix`) {
		t.Errorf("missing --fix suggestion:\n%s", h.stdout.String())
	}
}

func TestSetup_MissingVaultCLI(t *testing.T) {
	h := newHost(t, "SSH_AUTH_SOCK=/nonexistent")
	err := h.execute(t, "setup")
	if err == nil {
		t.Fatal("setup succeeded without a vault CLI")
	}
	if fault.HintOf(err) == "" {
		t.Errorf("err = %v, want an install hint", err)
	}
	if _, statErr := os.Stat(h.env.LockPath()); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("instance lock left behind")
	}
}

func TestSetup_RejectsArguments(t *testing.T) {
	h := newHost(t)
	err := h.execute(t, "setup", "extra")
	if err == nil || !strings.Contains(err.Error(), `unexpected argument "extra"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestVersion(t *testing.T) {
	h := newHost(t)
	if err := h.execute(t, "version"); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(h.stdout.String(), "credboot ") {
		t.Errorf("stdout = %q", h.stdout.String())
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"/tmp/ssh-abc/agent.123", "/tmp/ssh-abc/agent.123"},
		{"4242", "4242"},
		{"/home/ada/my dir/sock", "'/home/ada/my dir/sock'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}
	for _, test := range tests {
		if got := shellQuote(test.value); got != test.want {
			t.Errorf("shellQuote(%q) = %q, want %q", test.value, got, test.want)
		}
	}
}

func TestGecosName(t *testing.T) {
	for gecos, want := range map[string]string{
		"Ada Lovelace,Room 1,,": "Ada Lovelace",
		"Ada Lovelace":          "Ada Lovelace",
		"":                      "",
	} {
		if got := gecosName(gecos); got != want {
			t.Errorf("gecosName(%q) = %q, want %q", gecos, got, want)
		}
	}
}
