// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh/agent"
)

// ServeAgent starts an in-process SSH agent listening on the socket
// path "agent.<pid>" inside a fresh /tmp/ssh-* directory, matching the
// layout ssh-agent itself uses. It returns the socket path and the
// keyring behind it so tests can preload or inspect keys. The
// listener is closed when the test completes.
func ServeAgent(t *testing.T) (string, agent.Agent) {
	t.Helper()

	directory := SocketDir(t, "ssh-")
	socketPath := filepath.Join(directory, "agent."+strconv.Itoa(os.Getpid()))
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening on %s: %v", socketPath, err)
	}
	// Unix sockets are created with the umask applied; make the mode
	// deterministic so socket policy checks see an owner-only socket.
	if err := os.Chmod(socketPath, 0600); err != nil {
		t.Fatalf("restricting %s: %v", socketPath, err)
	}

	keyring := agent.NewKeyring()
	var connections sync.WaitGroup
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					t.Logf("test agent accept: %v", err)
				}
				return
			}
			connections.Add(1)
			go func() {
				defer connections.Done()
				defer conn.Close()
				_ = agent.ServeAgent(keyring, conn)
			}()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
		connections.Wait()
	})
	return socketPath, keyring
}

