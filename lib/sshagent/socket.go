// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sshagent

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/credboot/lib/fault"
)

// DefaultProbeTimeout bounds one agent protocol round trip.
const DefaultProbeTimeout = 5 * time.Second

// SocketPolicy describes where agent sockets may live and who must own
// them.
type SocketPolicy struct {
	UID        int
	Home       string
	RuntimeDir string

	// Patterns replaces the default allow-list when non-empty.
	Patterns []string
}

// AllowedPatterns returns the glob patterns a socket path must match.
func (p SocketPolicy) AllowedPatterns() []string {
	if len(p.Patterns) > 0 {
		return p.Patterns
	}
	userRuntime := "/run/user/" + strconv.Itoa(p.UID)
	patterns := []string{
		"/tmp/ssh-*/agent.*",
		userRuntime + "/*",
		userRuntime + "/*/*",
		"/private/tmp/com.apple.launchd.*/Listeners",
		"/var/folders/*/*/*/ssh-*/agent.*",
	}
	if p.RuntimeDir != "" && filepath.IsAbs(p.RuntimeDir) && filepath.Clean(p.RuntimeDir) != userRuntime {
		runtimeDir := filepath.Clean(p.RuntimeDir)
		patterns = append(patterns, runtimeDir+"/*", runtimeDir+"/*/*")
	}
	if p.Home != "" && filepath.IsAbs(p.Home) {
		patterns = append(patterns, filepath.Join(filepath.Clean(p.Home), ".ssh", "agent", "*"))
	}
	return patterns
}

// ValidateSocket checks that path is an allowed, owner-only agent
// socket. Every violation is a fault.Security error; a socket that
// does not exist is a fault.Resource error.
func (p SocketPolicy) ValidateSocket(path string) error {
	if path == "" {
		return fault.Security("agent socket path is empty")
	}
	if !filepath.IsAbs(path) || filepath.Clean(path) != path {
		return fault.Security("agent socket path %q is not absolute and clean", path)
	}
	if !p.allowed(path) {
		return fault.Security("agent socket %s is outside the allowed locations", path).
			WithHint("unset SSH_AUTH_SOCK or point it at a standard ssh-agent socket")
	}

	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fault.Resource("agent socket %s does not exist", path)
		}
		return fault.Security("agent socket %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return fault.Security("agent socket %s is not a socket", path)
	}
	if int(stat.Uid) != p.UID {
		return fault.Security("agent socket %s is owned by uid %d, not %d", path, stat.Uid, p.UID)
	}
	if stat.Mode&0o002 != 0 {
		return fault.Security("agent socket %s is world-writable", path)
	}

	parent := filepath.Dir(path)
	if err := unix.Lstat(parent, &stat); err != nil {
		return fault.Security("agent socket directory %s: %w", parent, err)
	}
	if int(stat.Uid) != p.UID && stat.Uid != 0 {
		return fault.Security("agent socket directory %s is owned by uid %d", parent, stat.Uid)
	}
	if stat.Mode&0o002 != 0 {
		return fault.Security("agent socket directory %s is world-writable", parent)
	}
	return nil
}

func (p SocketPolicy) allowed(path string) bool {
	for _, pattern := range p.AllowedPatterns() {
		if matched, err := filepath.Match(pattern, path); err == nil && matched {
			return true
		}
	}
	return false
}

// Probe connects to the agent at socket and lists its keys. An agent
// holding no keys is healthy and returns an empty slice.
func Probe(ctx context.Context, socket string) ([]*agent.Key, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fault.Network("connecting to agent at %s: %w", socket, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	keys, err := agent.NewClient(conn).List()
	if err != nil {
		return nil, fault.Network("listing agent keys at %s: %w", socket, err)
	}
	return keys, nil
}

func probeWithTimeout(ctx context.Context, socket string, timeout time.Duration) ([]*agent.Key, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Probe(ctx, socket)
}
