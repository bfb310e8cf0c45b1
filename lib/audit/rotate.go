// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/credboot/lib/atomicfile"
)

const (
	// MaxLogBytes is the size past which Open archives the log.
	MaxLogBytes = 1 << 20

	// KeepArchives is how many compressed generations are retained.
	KeepArchives = 3
)

// ArchivePath names generation n (1 is the newest) of the log at path.
func ArchivePath(path string, generation int) string {
	return path + "." + strconv.Itoa(generation) + ".zst"
}

// Rotate archives the log at path once it reaches limit bytes: older
// archives shift up one generation (the one past keep is dropped), the
// log is zstd-compressed into generation 1 and then removed, so the
// next Open starts an empty file. A missing or small log is left alone.
func Rotate(path string, limit int64, keep int) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking audit log size: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("audit log %s is not a regular file", path)
	}
	if info.Size() < limit || keep < 1 {
		return nil
	}

	for generation := keep; generation > 1; generation-- {
		err := os.Rename(ArchivePath(path, generation-1), ArchivePath(path, generation))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("shifting audit archives: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(data, nil)
	encoder.Close()

	if err := atomicfile.Write(ArchivePath(path, 1), compressed, 0600); err != nil {
		return fmt.Errorf("writing audit archive: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing archived audit log: %w", err)
	}
	return nil
}
