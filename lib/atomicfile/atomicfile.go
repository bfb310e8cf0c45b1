// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path with data. The parent directory must
// already exist.
func Write(path string, data []byte, perm os.FileMode) error {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := file.Name()

	// Chmod, write, sync, close, in that order. If any step fails,
	// remove the temporary file and report the first error.
	fail := func(step string, err error) error {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("%s temporary file for %s: %w", step, path, err)
	}
	if err := file.Chmod(perm); err != nil {
		return fail("restricting", err)
	}
	if _, err := file.Write(data); err != nil {
		return fail("writing", err)
	}
	if err := file.Sync(); err != nil {
		return fail("syncing", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file for %s: %w", path, err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}

	// The rename is only durable once the directory entry is flushed.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}
