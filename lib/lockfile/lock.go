// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lockfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/fault"
)

// ErrTimeout is wrapped by Acquire when a live owner keeps the lock
// past the timeout.
var ErrTimeout = errors.New("timed out waiting for the instance lock")

const (
	initialBackoff = 50 * time.Millisecond
	maximumBackoff = time.Second

	// maxRecordSize bounds how much of a lock file is read. A valid
	// record is well under 64 bytes.
	maxRecordSize = 256
)

// State is the lifecycle state of a Lock.
type State int

const (
	Unlocked State = iota
	Acquiring
	Held
	Released
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Acquiring:
		return "acquiring"
	case Held:
		return "held"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Record is the content of a lock file.
type Record struct {
	PID        int
	AcquiredAt time.Time
}

// Options configures a Lock.
type Options struct {
	// Path is the lock file. Its parent is created (0700) if missing.
	Path string

	// Timeout bounds how long Acquire waits for a live owner.
	// Zero means 30s.
	Timeout time.Duration

	// PID is the process id written into the record. Zero means
	// os.Getpid().
	PID int

	// ProcessAlive reports whether a recorded owner still runs. Nil
	// uses kill(pid, 0).
	ProcessAlive func(pid int) bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Lock is a PID-stamped instance lock.
type Lock struct {
	path    string
	timeout time.Duration
	pid     int
	alive   func(pid int) bool
	clock   clock.Clock
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

// New returns an unlocked Lock.
func New(options Options) *Lock {
	lock := &Lock{
		path:    options.Path,
		timeout: options.Timeout,
		pid:     options.PID,
		alive:   options.ProcessAlive,
		clock:   options.Clock,
		logger:  options.Logger,
	}
	if lock.timeout <= 0 {
		lock.timeout = 30 * time.Second
	}
	if lock.pid == 0 {
		lock.pid = os.Getpid()
	}
	if lock.alive == nil {
		lock.alive = ProcessAlive
	}
	if lock.clock == nil {
		lock.clock = clock.Real()
	}
	if lock.logger == nil {
		lock.logger = slog.New(slog.DiscardHandler)
	}
	return lock
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// State returns the current state.
func (l *Lock) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Lock) setState(state State) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}

// Acquire takes the lock, reclaiming it from a dead owner and waiting
// for a live one. Returns a fault.Resource error wrapping ErrTimeout
// when the timeout expires, or ctx.Err() when ctx ends first.
func (l *Lock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.state == Held {
		l.mu.Unlock()
		return nil
	}
	l.state = Acquiring
	l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		l.setState(Unlocked)
		return fault.Resource("creating lock directory: %w", err)
	}

	deadline := l.clock.Now().Add(l.timeout)
	backoff := initialBackoff
	maxAttempts := attemptBudget(l.timeout)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		created, err := l.tryCreate()
		if err != nil {
			l.setState(Unlocked)
			return fault.Resource("creating lock file %s: %w", l.path, err)
		}
		if created {
			l.setState(Held)
			l.logger.Debug("instance lock acquired", "path", l.path, "attempt", attempt)
			return nil
		}

		if l.reclaimIfStale() {
			continue
		}

		remaining := deadline.Sub(l.clock.Now())
		if remaining <= 0 {
			break
		}
		wait := min(backoff, remaining)
		select {
		case <-ctx.Done():
			l.setState(Unlocked)
			return ctx.Err()
		case <-l.clock.After(wait):
		}
		backoff = min(backoff*2, maximumBackoff)
	}

	l.setState(Unlocked)
	owner := "unknown"
	if record, err := ReadRecord(l.path); err == nil {
		owner = strconv.Itoa(record.PID)
	}
	return fault.Resource("%w after %s (held by pid %s, lock file %s)", ErrTimeout, l.timeout, owner, l.path).
		WithHint("wait for the other credboot run to finish, or remove the lock file if that process is gone")
}

// tryCreate atomically creates the lock file with this process's
// record. Returns false when the file already exists.
func (l *Lock) tryCreate() (bool, error) {
	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	record := Record{PID: l.pid, AcquiredAt: l.clock.Now().UTC()}
	_, writeErr := file.Write(record.encode())
	syncErr := file.Sync()
	closeErr := file.Close()
	if err := errors.Join(writeErr, syncErr, closeErr); err != nil {
		os.Remove(l.path)
		return false, err
	}
	return true, nil
}

// reclaimIfStale removes the lock file when its owner is gone. The
// read and the remove happen under an exclusive flock on the lock
// directory, so two reclaimers cannot both judge the same record stale
// and one of them delete the other's fresh lock. A record that cannot
// be parsed is treated as stale only once it is older than the
// timeout: a fresh unparseable file is a writer caught between create
// and write.
func (l *Lock) reclaimIfStale() bool {
	unlock, err := lockDirectory(filepath.Dir(l.path))
	if err != nil {
		l.logger.Warn("locking lock directory for reclaim failed", "path", l.path, "error", err)
		return false
	}
	defer unlock()

	record, err := ReadRecord(l.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Released between our create attempt and the read.
		return true
	case err != nil:
		info, statErr := os.Stat(l.path)
		if statErr != nil || l.clock.Now().Sub(info.ModTime()) < l.timeout {
			return false
		}
		l.logger.Warn("reclaiming unreadable lock file", "path", l.path, "error", err)
	case record.PID == l.pid:
		// Our pid, but we did not create it: a dead process whose pid
		// was recycled to us.
		l.logger.Warn("reclaiming lock recorded under our recycled pid", "path", l.path)
	case l.alive(record.PID):
		return false
	default:
		l.logger.Info("reclaiming stale instance lock", "path", l.path, "stale_pid", record.PID)
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("removing stale lock failed", "path", l.path, "error", err)
		return false
	}
	return true
}

// lockDirectory blocks until it holds an exclusive flock on dir.
func lockDirectory(dir string) (func(), error) {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dir, err)
	}
	for {
		err = unix.Flock(fd, unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("locking %s: %w", dir, err)
	}
	return func() {
		unix.Flock(fd, unix.LOCK_UN)
		unix.Close(fd)
	}, nil
}

// Release deletes the lock file if this process still owns it. Safe to
// call in any state and more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Held {
		return nil
	}
	l.state = Released

	record, err := ReadRecord(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading lock file before release: %w", err)
	}
	if record.PID != l.pid {
		l.logger.Warn("lock file now owned by another process, leaving it", "path", l.path, "owner_pid", record.PID)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// ReadRecord parses the lock file at path.
func ReadRecord(path string) (Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer file.Close()

	buffer := make([]byte, maxRecordSize)
	count, err := file.Read(buffer)
	if err != nil && count == 0 {
		return Record{}, fmt.Errorf("reading lock record: %w", err)
	}
	return parseRecord(buffer[:count])
}

func parseRecord(data []byte) (Record, error) {
	lines := strings.Split(string(bytes.TrimSpace(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || pid <= 0 {
		return Record{}, fmt.Errorf("lock record has invalid pid %q", lines[0])
	}
	record := Record{PID: pid}
	if len(lines) > 1 {
		if acquired, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			record.AcquiredAt = acquired
		}
	}
	return record, nil
}

func (r Record) encode() []byte {
	return []byte(fmt.Sprintf("%d\n%s\n", r.PID, r.AcquiredAt.Format(time.RFC3339)))
}

// ProcessAlive reports whether pid names a running process. EPERM
// means the process exists under another user.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// attemptBudget bounds the acquisition loop: the number of backoff
// waits that fit in timeout, plus headroom for reclaim retries.
func attemptBudget(timeout time.Duration) int {
	attempts := 1
	backoff := initialBackoff
	for elapsed := time.Duration(0); elapsed < timeout; attempts++ {
		elapsed += backoff
		backoff = min(backoff*2, maximumBackoff)
	}
	return attempts + 4
}
