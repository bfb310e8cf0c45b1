// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	EventRunStarted      = "run_started"
	EventRunFinished     = "run_finished"
	EventVaultBinary     = "vault_binary_verified"
	EventAgentReused     = "agent_reused"
	EventAgentSpawned    = "agent_spawned"
	EventKeyAdded        = "key_added"
	EventKeyPresent      = "key_already_present"
	EventKeyRejected     = "key_rejected"
	EventIdentitySet     = "identity_configured"
	EventSigningSet      = "signing_configured"
	EventCleanupFinished = "cleanup_finished"
)

// ErrSecretDetail is returned when a detail value looks like secret
// material. The event is not written.
var ErrSecretDetail = errors.New("audit detail looks like secret material")

// Recorder accepts audit events.
type Recorder interface {
	Record(event string, details ...slog.Attr) error
}

// Discard drops every event after checking it.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(_ string, details ...slog.Attr) error { return checkDetails(details) }

// Log appends events to a file.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
	runID  string

	rotateErr error
}

// Open appends to the audit file at path, creating it (0600) and its
// directory (0700) as needed. A log past MaxLogBytes is archived first;
// a failed rotation does not prevent opening and is reported by
// RotateError. A fresh run ID is generated.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	rotateErr := Rotate(path, MaxLogBytes, KeepArchives)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	if err := file.Chmod(0600); err != nil {
		file.Close()
		return nil, fmt.Errorf("restricting audit log: %w", err)
	}
	log := newLog(file)
	log.rotateErr = rotateErr
	return log, nil
}

func newLog(file *os.File) *Log {
	runID := uuid.NewString()
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 && attr.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, attr.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return attr
		},
	})
	return &Log{
		file:   file,
		logger: slog.New(handler).With("run_id", runID),
		runID:  runID,
	}
}

// RunID identifies this invocation in every line.
func (l *Log) RunID() string { return l.runID }

// RotateError reports why archiving the previous log failed, if it did.
func (l *Log) RotateError() error { return l.rotateErr }

// Path returns the file being written.
func (l *Log) Path() string { return l.file.Name() }

// Record writes one event.
func (l *Log) Record(event string, details ...slog.Attr) error {
	if err := checkDetails(details); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.ErrClosed
	}
	attrs := []slog.Attr{slog.String("caller", callerName())}
	if len(details) > 0 {
		attrs = append(attrs, slog.Attr{Key: "details", Value: slog.GroupValue(details...)})
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, event, attrs...)
	return nil
}

// Close syncs and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	return errors.Join(syncErr, closeErr)
}

// callerName returns the first function outside this package.
func callerName() string {
	pcs := make([]uintptr, 8)
	count := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:count])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, "/lib/audit.") {
			name := frame.Function
			if slash := strings.LastIndexByte(name, '/'); slash >= 0 {
				name = name[slash+1:]
			}
			return name
		}
		if !more {
			return "unknown"
		}
	}
}
