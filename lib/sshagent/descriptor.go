// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sshagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/credboot/lib/atomicfile"
	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/fault"
)

// MaxDescriptorBytes caps both descriptor files and ssh-agent output.
const MaxDescriptorBytes = 4096

// DefaultLockTimeout bounds the wait for the descriptor lock.
const DefaultLockTimeout = 10 * time.Second

// ErrMalformedDescriptor is returned (wrapped) for content outside the
// descriptor grammar.
var ErrMalformedDescriptor = errors.New("malformed agent descriptor")

var (
	socketLine = regexp.MustCompile(`^SSH_AUTH_SOCK=([A-Za-z0-9_./@:+-]+); export SSH_AUTH_SOCK;$`)
	pidLine    = regexp.MustCompile(`^SSH_AGENT_PID=([0-9]{1,10}); export SSH_AGENT_PID;$`)
	echoLine   = regexp.MustCompile(`^echo Agent pid ([0-9]{1,10});$`)
)

// Rejected anywhere in a descriptor, even where the grammar would
// already refuse them.
var injectionMarkers = []string{"$(", "`", "${", "&&", "||", "|", ";;", ">", "<", "\\", "\x00", "/../", "/./"}

// Descriptor records an agent session for reuse by later runs.
type Descriptor struct {
	SocketPath string
	PID        int
}

// Encode renders d in the ssh-agent -s format.
func (d Descriptor) Encode() []byte {
	return []byte(fmt.Sprintf(
		"SSH_AUTH_SOCK=%s; export SSH_AUTH_SOCK;\nSSH_AGENT_PID=%d; export SSH_AGENT_PID;\necho Agent pid %d;\n",
		d.SocketPath, d.PID, d.PID))
}

// ParseDescriptor parses ssh-agent -s output or a stored descriptor.
// Blank lines are ignored; any other line must match the grammar
// exactly, each assignment must appear once, and an echo line, when
// present, must agree with SSH_AGENT_PID.
func ParseDescriptor(data []byte) (Descriptor, error) {
	if len(data) > MaxDescriptorBytes {
		return Descriptor{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformedDescriptor, len(data), MaxDescriptorBytes)
	}
	text := string(data)
	for _, marker := range injectionMarkers {
		if strings.Contains(text, marker) {
			return Descriptor{}, fmt.Errorf("%w: contains %q", ErrMalformedDescriptor, marker)
		}
	}

	var (
		descriptor Descriptor
		echoPID    int
	)
	for number, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		switch {
		case socketLine.MatchString(line):
			if descriptor.SocketPath != "" {
				return Descriptor{}, fmt.Errorf("%w: line %d repeats SSH_AUTH_SOCK", ErrMalformedDescriptor, number+1)
			}
			descriptor.SocketPath = socketLine.FindStringSubmatch(line)[1]
		case pidLine.MatchString(line):
			if descriptor.PID != 0 {
				return Descriptor{}, fmt.Errorf("%w: line %d repeats SSH_AGENT_PID", ErrMalformedDescriptor, number+1)
			}
			pid, err := parsePID(pidLine.FindStringSubmatch(line)[1])
			if err != nil {
				return Descriptor{}, fmt.Errorf("%w: line %d: %v", ErrMalformedDescriptor, number+1, err)
			}
			descriptor.PID = pid
		case echoLine.MatchString(line):
			pid, err := parsePID(echoLine.FindStringSubmatch(line)[1])
			if err != nil {
				return Descriptor{}, fmt.Errorf("%w: line %d: %v", ErrMalformedDescriptor, number+1, err)
			}
			echoPID = pid
		default:
			return Descriptor{}, fmt.Errorf("%w: line %d does not match the expected grammar", ErrMalformedDescriptor, number+1)
		}
	}

	if descriptor.SocketPath == "" || descriptor.PID == 0 {
		return Descriptor{}, fmt.Errorf("%w: SSH_AUTH_SOCK and SSH_AGENT_PID are both required", ErrMalformedDescriptor)
	}
	if !filepath.IsAbs(descriptor.SocketPath) || filepath.Clean(descriptor.SocketPath) != descriptor.SocketPath {
		return Descriptor{}, fmt.Errorf("%w: socket path %q is not absolute and clean", ErrMalformedDescriptor, descriptor.SocketPath)
	}
	if echoPID != 0 && echoPID != descriptor.PID {
		return Descriptor{}, fmt.Errorf("%w: echo pid %d disagrees with SSH_AGENT_PID %d", ErrMalformedDescriptor, echoPID, descriptor.PID)
	}
	return descriptor, nil
}

func parsePID(text string) (int, error) {
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 1 || pid > 1<<22 {
		return 0, fmt.Errorf("pid %q out of range", text)
	}
	return pid, nil
}

// ReadDescriptor loads the descriptor at path. The file must be a
// regular file owned by uid and writable only by its owner. A missing
// file returns an error wrapping os.ErrNotExist.
func ReadDescriptor(path string, uid int) (Descriptor, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, unix.ELOOP) {
			return Descriptor{}, fault.Security("agent descriptor %s is a symlink", path)
		}
		return Descriptor{}, &os.PathError{Op: "open", Path: path, Err: err}
	}
	file := os.NewFile(uintptr(fd), path)
	defer file.Close()

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return Descriptor{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		return Descriptor{}, fault.Security("agent descriptor %s is not a regular file", path)
	}
	if int(stat.Uid) != uid {
		return Descriptor{}, fault.Security("agent descriptor %s is owned by uid %d", path, stat.Uid)
	}
	if stat.Mode&0o022 != 0 {
		return Descriptor{}, fault.Security("agent descriptor %s is writable by group or others", path)
	}

	data, err := io.ReadAll(io.LimitReader(file, MaxDescriptorBytes+1))
	if err != nil {
		return Descriptor{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseDescriptor(data)
}

// WriteDescriptor atomically replaces the descriptor at path with mode
// 0600, creating its directory with mode 0700 when needed.
func WriteDescriptor(path string, descriptor Descriptor) error {
	if _, err := ParseDescriptor(descriptor.Encode()); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating descriptor directory: %w", err)
	}
	return atomicfile.Write(path, descriptor.Encode(), 0600)
}

// RemoveDescriptor deletes a stale descriptor. Missing is not an error.
func RemoveDescriptor(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing agent descriptor: %w", err)
	}
	return nil
}

const (
	lockPollInitial = 25 * time.Millisecond
	lockPollMaximum = 500 * time.Millisecond
)

// lockDescriptor takes an exclusive flock on path+".lock", polling
// with LOCK_NB until timeout. The returned function releases it.
func lockDescriptor(ctx context.Context, path string, timeout time.Duration, clk clock.Clock) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating descriptor directory: %w", err)
	}
	lockPath := path + ".lock"
	file, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE|unix.O_NOFOLLOW, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening descriptor lock %s: %w", lockPath, err)
	}

	deadline := clk.Now().Add(timeout)
	backoff := lockPollInitial
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("locking %s: %w", lockPath, err)
		}
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 {
			file.Close()
			return nil, fault.Resource("agent descriptor %s stayed locked for %s", lockPath, timeout).
				WithHint("another credboot run may be starting an agent; retry shortly")
		}
		select {
		case <-ctx.Done():
			file.Close()
			return nil, ctx.Err()
		case <-clk.After(min(backoff, remaining)):
		}
		backoff = min(backoff*2, lockPollMaximum)
	}

	return func() {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
	}, nil
}
