// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sshagent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	"golang.org/x/crypto/ssh/agent"

	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/testutil"
)

func currentPolicy() SocketPolicy {
	return SocketPolicy{UID: os.Getuid(), Home: "/home/example"}
}

// listenIn creates a socket named name inside dir and returns its path.
func listenIn(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen %s: %v", path, err)
	}
	t.Cleanup(func() { listener.Close() })
	if err := os.Chmod(path, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAllowedPatterns(t *testing.T) {
	policy := SocketPolicy{UID: 1000, Home: "/home/alex", RuntimeDir: "/run/user/1000"}
	patterns := policy.AllowedPatterns()
	for _, want := range []string{
		"/tmp/ssh-*/agent.*",
		"/run/user/1000/*",
		"/home/alex/.ssh/agent/*",
		"/private/tmp/com.apple.launchd.*/Listeners",
		"/var/folders/*/*/*/ssh-*/agent.*",
	} {
		if !slices.Contains(patterns, want) {
			t.Errorf("patterns missing %q: %v", want, patterns)
		}
	}
	// A runtime dir equal to /run/user/<uid> is not listed twice.
	count := 0
	for _, pattern := range patterns {
		if pattern == "/run/user/1000/*" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("/run/user/1000/* listed %d times", count)
	}

	custom := SocketPolicy{UID: 1000, RuntimeDir: "/var/run/custom"}
	if !slices.Contains(custom.AllowedPatterns(), "/var/run/custom/*") {
		t.Error("XDG runtime dir pattern missing")
	}
}

func TestValidateSocket_Accepts(t *testing.T) {
	socket, _ := testutil.ServeAgent(t)
	if err := currentPolicy().ValidateSocket(socket); err != nil {
		t.Fatalf("ValidateSocket(%s): %v", socket, err)
	}
}

func TestValidateSocket_Rejects(t *testing.T) {
	policy := currentPolicy()

	t.Run("empty", func(t *testing.T) {
		assertSecurity(t, policy.ValidateSocket(""))
	})
	t.Run("relative", func(t *testing.T) {
		assertSecurity(t, policy.ValidateSocket("tmp/ssh-abc/agent.1"))
	})
	t.Run("unclean", func(t *testing.T) {
		assertSecurity(t, policy.ValidateSocket("/tmp/ssh-abc/../ssh-def/agent.1"))
	})
	t.Run("outside patterns", func(t *testing.T) {
		dir := testutil.SocketDir(t, "credboot-")
		assertSecurity(t, policy.ValidateSocket(listenIn(t, dir, "agent.1")))
	})
	t.Run("not a socket", func(t *testing.T) {
		dir := testutil.SocketDir(t, "ssh-")
		path := filepath.Join(dir, "agent.1")
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		assertSecurity(t, policy.ValidateSocket(path))
	})
	t.Run("world-writable socket", func(t *testing.T) {
		dir := testutil.SocketDir(t, "ssh-")
		path := listenIn(t, dir, "agent.1")
		if err := os.Chmod(path, 0666); err != nil {
			t.Fatal(err)
		}
		assertSecurity(t, policy.ValidateSocket(path))
	})
	t.Run("world-writable directory", func(t *testing.T) {
		dir := testutil.SocketDir(t, "ssh-")
		path := listenIn(t, dir, "agent.1")
		if err := os.Chmod(dir, 0777); err != nil {
			t.Fatal(err)
		}
		assertSecurity(t, policy.ValidateSocket(path))
	})
	t.Run("foreign owner", func(t *testing.T) {
		socket, _ := testutil.ServeAgent(t)
		foreign := policy
		foreign.UID = os.Getuid() + 1
		foreign.Patterns = []string{"/tmp/ssh-*/agent.*"}
		assertSecurity(t, foreign.ValidateSocket(socket))
	})
}

func TestValidateSocket_Missing(t *testing.T) {
	dir := testutil.SocketDir(t, "ssh-")
	err := currentPolicy().ValidateSocket(filepath.Join(dir, "agent."+strconv.Itoa(os.Getpid())))
	if !fault.Is(err, fault.KindResource) {
		t.Fatalf("missing socket error = %v (kind %q), want resource", err, fault.KindOf(err))
	}
}

func TestProbe(t *testing.T) {
	socket, keyring := testutil.ServeAgent(t)

	keys, err := Probe(context.Background(), socket)
	if err != nil {
		t.Fatalf("Probe on empty agent: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("empty agent lists %d keys", len(keys))
	}

	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if err := keyring.Add(agent.AddedKey{PrivateKey: private, Comment: "probe"}); err != nil {
		t.Fatal(err)
	}
	keys, err = Probe(context.Background(), socket)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if len(keys) != 1 || keys[0].Comment != "probe" {
		t.Fatalf("keys = %v, want the probe key", keys)
	}
}

func TestProbe_Unreachable(t *testing.T) {
	dir := testutil.SocketDir(t, "ssh-")
	_, err := Probe(context.Background(), filepath.Join(dir, "agent.1"))
	if !fault.Is(err, fault.KindNetwork) {
		t.Fatalf("Probe error = %v, want network fault", err)
	}
}

func assertSecurity(t *testing.T, err error) {
	t.Helper()
	if !fault.Is(err, fault.KindSecurity) {
		t.Fatalf("error = %v (kind %q), want security", err, fault.KindOf(err))
	}
}
