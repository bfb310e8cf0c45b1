// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/credboot/lib/audit"
	"github.com/bureau-foundation/credboot/lib/cleanup"
	"github.com/bureau-foundation/credboot/lib/clock"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/lifecycle"
	"github.com/bureau-foundation/credboot/lib/secret"
	"github.com/bureau-foundation/credboot/lib/sshagent"
	"github.com/bureau-foundation/credboot/lib/vault"
)

// Defaults.
const (
	DefaultAddTimeout = 15 * time.Second
	DefaultMaxKeys    = 20
	DefaultBatchSize  = 5
	DefaultBatchPause = time.Second

	// MinFreeBytes is the free space the run directory's filesystem
	// must have before a key is written.
	MinFreeBytes = 1 << 20

	// TempPattern names key files inside the run directory.
	TempPattern = "key-*.tmp"
)

// KeyAdder adds a key file to the agent. sshagent.Manager satisfies it.
type KeyAdder interface {
	AddKey(ctx context.Context, path, fingerprint string) (sshagent.AddResult, error)
}

// ItemSource fetches vault items. vault.Client satisfies it.
type ItemSource interface {
	GetItem(ctx context.Context, reference string) (*vault.Item, error)
}

// Options configures a Handler.
type Options struct {
	// RunDir holds temporary key files. It must exist, be owned by
	// the current user, and have mode 0700.
	RunDir string

	Agent      KeyAdder
	Registry   *cleanup.Registry
	Interrupts *lifecycle.Interrupts
	Denylist   *Denylist

	// Shredder destroys key files. Nil uses secret.Shredder{}.
	Shredder cleanup.FileDestroyer

	AddTimeout time.Duration
	MaxKeys    int
	BatchSize  int
	BatchPause time.Duration

	// FreeSpace reports available bytes on the filesystem holding
	// path. Nil uses statfs.
	FreeSpace func(path string) (uint64, error)

	Clock  clock.Clock
	Audit  audit.Recorder
	Logger *slog.Logger
}

// Handler loads keys into the agent.
type Handler struct {
	options Options

	// reached is called as Load passes each stage.
	reached func(stage loadStage)
}

// loadStage names the points in Load where an interruption can land
// outside the critical section.
type loadStage string

const (
	stageFileCreated loadStage = "file created"
	stageExtracted   loadStage = "key extracted"
	stageFileWritten loadStage = "file written"
)

// NewHandler validates options and returns a Handler.
func NewHandler(options Options) (*Handler, error) {
	if options.RunDir == "" || options.Agent == nil || options.Registry == nil {
		return nil, errors.New("credential: RunDir, Agent and Registry are required")
	}
	if options.Shredder == nil {
		options.Shredder = secret.Shredder{}
	}
	if options.AddTimeout <= 0 {
		options.AddTimeout = DefaultAddTimeout
	}
	if options.MaxKeys <= 0 {
		options.MaxKeys = DefaultMaxKeys
	}
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	if options.BatchPause < 0 {
		options.BatchPause = 0
	} else if options.BatchPause == 0 {
		options.BatchPause = DefaultBatchPause
	}
	if options.FreeSpace == nil {
		options.FreeSpace = freeSpace
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Audit == nil {
		options.Audit = audit.Discard
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{options: options, reached: func(loadStage) {}}, nil
}

// Outcome describes one loaded key.
type Outcome struct {
	Item        string
	Fingerprint string
	KeyType     string
	Result      sshagent.AddResult
}

// Load moves the key in item into the agent. The caller still owns
// item and must Wipe it; the key field itself is zeroed here. Load
// stops with lifecycle.ErrInterrupted when a signal arrives before the
// key reaches the agent.
func (h *Handler) Load(ctx context.Context, item *vault.Item) (Outcome, error) {
	outcome := Outcome{Item: item.Title}

	path, err := h.createTempFile()
	if err != nil {
		return outcome, err
	}

	var (
		material *Material
		section  *lifecycle.CriticalSection
		shredded bool
	)
	// Backstop for early returns and panics. The normal path below
	// runs the same steps explicitly and in order.
	defer func() {
		if !shredded {
			h.shred(path)
		}
		material.Close()
		section.Exit()
	}()
	if err := h.checkpoint(stageFileCreated); err != nil {
		return outcome, err
	}

	material, err = Extract(item, h.options.Denylist)
	if err != nil {
		if fault.Is(err, fault.KindSecurity) {
			h.record(audit.EventKeyRejected, item.Title, "", err)
		}
		return outcome, err
	}
	outcome.Fingerprint = material.Fingerprint
	outcome.KeyType = material.KeyType
	if err := h.checkpoint(stageExtracted); err != nil {
		return outcome, err
	}

	if err := writeKeyFile(path, material); err != nil {
		return outcome, err
	}
	if err := h.checkpoint(stageFileWritten); err != nil {
		return outcome, err
	}

	// Signals are held from here until the file is shredded.
	section = h.options.Interrupts.Enter()

	addCtx, cancel := context.WithTimeout(ctx, h.options.AddTimeout)
	result, addErr := h.options.Agent.AddKey(addCtx, path, material.Fingerprint)
	cancel()
	if errors.Is(addErr, context.DeadlineExceeded) && ctx.Err() == nil {
		addErr = fault.Failure("adding key %s to the agent timed out after %s", material.Fingerprint, h.options.AddTimeout)
	}

	shredErr := h.shred(path)
	shredded = true
	material.Close()
	section.Exit()

	if shredErr != nil {
		return outcome, shredErr
	}
	if addErr != nil {
		return outcome, fmt.Errorf("adding key from %q: %w", item.Title, addErr)
	}
	outcome.Result = result
	h.options.Logger.Info("key loaded", "item", item.Title, "fingerprint", outcome.Fingerprint, "result", result.String())
	return outcome, nil
}

// checkpoint fails once a signal has been handled, so a run whose
// handler returned goes no further.
func (h *Handler) checkpoint(stage loadStage) error {
	h.reached(stage)
	if h.options.Interrupts.Interrupted() {
		return fmt.Errorf("%s: %w", stage, lifecycle.ErrInterrupted)
	}
	return nil
}

// createTempFile checks the run directory and free space, then
// creates an owner-only file and registers it for cleanup.
func (h *Handler) createTempFile() (string, error) {
	if err := checkRunDir(h.options.RunDir); err != nil {
		return "", err
	}
	free, err := h.options.FreeSpace(h.options.RunDir)
	if err != nil {
		return "", fault.Resource("checking free space in %s: %w", h.options.RunDir, err)
	}
	if free < MinFreeBytes {
		return "", fault.Resource("only %d bytes free in %s, need %d", free, h.options.RunDir, MinFreeBytes).
			WithHint("free some disk space and rerun")
	}

	file, err := os.CreateTemp(h.options.RunDir, TempPattern)
	if err != nil {
		return "", fault.Resource("creating temporary key file: %w", err)
	}
	path := file.Name()
	h.options.Registry.RegisterFile(path)

	chmodErr := file.Chmod(0600)
	info, statErr := file.Stat()
	closeErr := file.Close()
	if err := errors.Join(chmodErr, statErr, closeErr); err != nil {
		h.shred(path)
		return "", fault.Resource("preparing temporary key file: %w", err)
	}
	if info.Mode().Perm() != 0600 {
		h.shred(path)
		return "", fault.Security("temporary key file has mode %04o after chmod 0600", info.Mode().Perm())
	}
	return path, nil
}

func checkRunDir(dir string) error {
	var stat unix.Stat_t
	if err := unix.Lstat(dir, &stat); err != nil {
		return fault.Resource("run directory %s: %w", dir, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fault.Security("run directory %s is not a directory", dir)
	}
	if int(stat.Uid) != os.Getuid() {
		return fault.Security("run directory %s is owned by uid %d", dir, stat.Uid)
	}
	if mode := stat.Mode & 0o777; mode != 0o700 {
		return fault.Security("run directory %s has mode %04o, want 0700", dir, mode)
	}
	return nil
}

// writeKeyFile writes, syncs, and size-checks the key file. The file
// is opened without O_CREATE so a replaced path is never recreated.
func writeKeyFile(path string, material *Material) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|unix.O_NOFOLLOW, 0)
	if err != nil {
		return fault.Resource("opening temporary key file: %w", err)
	}
	_, writeErr := file.Write(material.Bytes())
	syncErr := file.Sync()
	info, statErr := file.Stat()
	closeErr := file.Close()
	if err := errors.Join(writeErr, syncErr, statErr, closeErr); err != nil {
		return fault.Resource("writing temporary key file: %w", err)
	}
	if info.Size() == 0 || info.Size() != int64(len(material.Bytes())) {
		return fault.Resource("temporary key file holds %d bytes, expected %d", info.Size(), len(material.Bytes()))
	}
	return nil
}

// shred destroys path and drops it from the registry once it is gone.
func (h *Handler) shred(path string) error {
	method, err := h.options.Shredder.Shred(path)
	if err != nil {
		h.options.Logger.Error("shredding temporary key file failed", "path", path, "error", err)
		return fault.Security("temporary key file %s could not be destroyed: %w", path, err)
	}
	if _, statErr := os.Lstat(path); !errors.Is(statErr, os.ErrNotExist) {
		return fault.Security("temporary key file %s still exists after %s", path, method)
	}
	h.options.Registry.Unregister(path)
	h.options.Logger.Debug("temporary key file destroyed", "path", path, "method", string(method))
	return nil
}

func (h *Handler) record(event, item, fingerprint string, cause error) {
	attrs := []slog.Attr{slog.String("item", item)}
	if fingerprint != "" {
		attrs = append(attrs, slog.String("fingerprint", fingerprint))
	}
	if cause != nil {
		attrs = append(attrs, slog.String("reason", string(fault.KindOf(cause))))
	}
	if err := h.options.Audit.Record(event, attrs...); err != nil {
		h.options.Logger.Warn("audit record failed", "event", event, "error", err)
	}
}

func freeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
