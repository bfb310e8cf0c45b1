// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ShredMethod records how a file was destroyed.
type ShredMethod string

const (
	// ShredTool means the system shred(1) binary overwrote and removed
	// the file.
	ShredTool ShredMethod = "shred"

	// ShredOverwrite means the file was overwritten in-process with
	// random bytes and a final zero pass, then unlinked.
	ShredOverwrite ShredMethod = "overwrite"

	// ShredUnlinkOnly means the contents could not be overwritten (the
	// file was not writable or not a regular file) and the path was
	// only unlinked.
	ShredUnlinkOnly ShredMethod = "unlink"

	// ShredAbsent means the path did not exist.
	ShredAbsent ShredMethod = "absent"
)

// Shredder destroys files. The zero value uses shred(1) from PATH when
// present and three overwrite passes.
type Shredder struct {
	// ToolPath is the shred binary. Empty means look it up in PATH;
	// "-" disables the tool and forces the in-process overwrite.
	ToolPath string

	// Passes is the number of random overwrite passes. Zero means 3.
	Passes int

	// Timeout bounds the external tool. Zero means 10s.
	Timeout time.Duration
}

// Shred destroys path with the default Shredder.
func Shred(path string) (ShredMethod, error) {
	return Shredder{}.Shred(path)
}

// Shred overwrites and unlinks path, then verifies that the path no
// longer exists. Symlinks and other non-regular files are unlinked
// without following them.
func (s Shredder) Shred(path string) (ShredMethod, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return ShredAbsent, nil
	}
	if err != nil {
		return "", fmt.Errorf("secret: inspecting %s: %w", path, err)
	}

	method := ShredUnlinkOnly
	if info.Mode().IsRegular() {
		method = s.overwrite(path, info.Size())
	}

	if method != ShredTool {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return method, fmt.Errorf("secret: removing %s: %w", path, err)
		}
	}

	if _, err := os.Lstat(path); !errors.Is(err, os.ErrNotExist) {
		return method, fmt.Errorf("secret: %s still exists after shredding", path)
	}
	return method, nil
}

// overwrite destroys the file contents and reports which method
// succeeded. ShredTool means the tool already unlinked the file.
func (s Shredder) overwrite(path string, size int64) ShredMethod {
	passes := s.Passes
	if passes <= 0 {
		passes = 3
	}

	if tool := s.toolPath(); tool != "" {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		command := exec.CommandContext(ctx, tool, "-u", "-z", "-n", fmt.Sprint(passes), "--", path)
		if err := command.Run(); err == nil {
			return ShredTool
		}
	}

	if err := overwriteInPlace(path, size, passes); err != nil {
		return ShredUnlinkOnly
	}
	return ShredOverwrite
}

func (s Shredder) toolPath() string {
	switch s.ToolPath {
	case "-":
		return ""
	case "":
		path, err := exec.LookPath("shred")
		if err != nil {
			return ""
		}
		return path
	default:
		return s.ToolPath
	}
}

// overwriteInPlace writes passes of random data followed by one pass
// of zeros over the first size bytes of path, syncing after each pass.
func overwriteInPlace(path string, size int64, passes int) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer file.Close()

	for pass := 0; pass <= passes; pass++ {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		var source io.Reader = rand.Reader
		if pass == passes {
			source = zeroReader{}
		}
		if _, err := io.CopyN(file, source, size); err != nil {
			return err
		}
		if err := file.Sync(); err != nil {
			return err
		}
	}
	return nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	Zero(p)
	return len(p), nil
}
