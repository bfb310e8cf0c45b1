// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cleanup

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/bureau-foundation/credboot/lib/secret"
)

// FileDestroyer destroys a file. secret.Shredder satisfies it.
type FileDestroyer interface {
	Shred(path string) (secret.ShredMethod, error)
}

// Registry records resources to release when the run ends.
type Registry struct {
	mu        sync.Mutex
	files     []string
	dirs      []string
	closers   []io.Closer
	slices    [][]byte
	done      bool
	once      sync.Once
	destroyer FileDestroyer
	logger    *slog.Logger
}

// New returns an empty Registry. A nil destroyer uses the default
// secret.Shredder; a nil logger discards.
func New(destroyer FileDestroyer, logger *slog.Logger) *Registry {
	if destroyer == nil {
		destroyer = secret.Shredder{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{destroyer: destroyer, logger: logger}
}

// RegisterFile schedules path for shredding. If Run has already
// completed the file is shredded immediately, so a registration that
// races with cleanup never leaves the file behind.
func (r *Registry) RegisterFile(path string) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		r.destroyFile(path)
		return
	}
	r.files = append(r.files, path)
	r.mu.Unlock()
}

// RegisterDir schedules path for recursive removal. Directories are
// removed after all files.
func (r *Registry) RegisterDir(path string) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		r.removeDir(path)
		return
	}
	r.dirs = append(r.dirs, path)
	r.mu.Unlock()
}

// Unregister forgets path (file or directory). Use it after a file was
// destroyed or relocated by its owner so cleanup does not handle it twice.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = without(r.files, path)
	r.dirs = without(r.dirs, path)
}

// TrackSecret schedules closer.Close (secret.Buffer and anything that
// owns buffers) for cleanup.
func (r *Registry) TrackSecret(closer io.Closer) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		closer.Close()
		return
	}
	r.closers = append(r.closers, closer)
	r.mu.Unlock()
}

// TrackBytes schedules data to be zeroed.
func (r *Registry) TrackBytes(data []byte) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		secret.Zero(data)
		return
	}
	r.slices = append(r.slices, data)
	r.mu.Unlock()
}

// Pending returns the registered file paths that have not been
// cleaned up yet.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

// Run releases every registered resource exactly once. Files are
// shredded first, then directories removed, then secrets zeroed. Run
// is safe to call from a signal handler goroutine while the main flow
// is still registering resources.
func (r *Registry) Run() {
	r.once.Do(r.run)
}

func (r *Registry) run() {
	r.mu.Lock()
	files, dirs, closers, slices := r.files, r.dirs, r.closers, r.slices
	r.files, r.dirs, r.closers, r.slices = nil, nil, nil, nil
	r.done = true
	r.mu.Unlock()

	for _, path := range files {
		r.destroyFile(path)
	}
	// Innermost directories were usually registered last.
	for index := len(dirs) - 1; index >= 0; index-- {
		r.removeDir(dirs[index])
	}
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			r.logger.Warn("releasing secret failed", "error", err)
		}
	}
	for _, data := range slices {
		secret.Zero(data)
	}
	r.logger.Debug("cleanup complete",
		"files", len(files), "dirs", len(dirs), "secrets", len(closers)+len(slices))
}

func (r *Registry) destroyFile(path string) {
	method, err := r.destroyer.Shred(path)
	if err != nil {
		r.logger.Error("erasing temporary file failed", "path", path, "error", err)
		// Fall back to a plain unlink so the path is at least gone.
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			r.logger.Error("removing temporary file failed", "path", path, "error", removeErr)
		}
		return
	}
	if method == secret.ShredUnlinkOnly {
		r.logger.Warn("temporary file unlinked without overwrite", "path", path)
	}
}

func (r *Registry) removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		r.logger.Error("removing temporary directory failed", "path", path, "error", err)
	}
}

func without(paths []string, target string) []string {
	kept := paths[:0]
	for _, path := range paths {
		if path != target {
			kept = append(kept, path)
		}
	}
	return kept
}
