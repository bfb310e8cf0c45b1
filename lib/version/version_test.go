// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"os"
	"strings"
	"testing"

	"github.com/bureau-foundation/credboot/lib/binhash"
)

func TestInfo(t *testing.T) {
	savedCommit, savedDirty := GitCommit, GitDirty
	defer func() { GitCommit, GitDirty = savedCommit, savedDirty }()

	GitCommit, GitDirty = "abc1234", "true"
	if info := Info(); !strings.HasPrefix(info, Version+" (abc1234-dirty, ") {
		t.Errorf("Info() = %q", info)
	}
	GitDirty = "false"
	if info := Info(); strings.Contains(info, "-dirty") {
		t.Errorf("Info() = %q, want no dirty marker", info)
	}
	if full := Full(); !strings.Contains(full, "Go: ") {
		t.Errorf("Full() = %q, want Go version", full)
	}
}

func TestSelfDigest(t *testing.T) {
	digest, path, err := SelfDigest()
	if err != nil {
		t.Fatalf("SelfDigest: %v", err)
	}
	executable, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	if path != executable {
		t.Errorf("path = %q, want %q", path, executable)
	}
	want, err := binhash.HashFile(executable)
	if err != nil {
		t.Fatal(err)
	}
	if digest != want {
		t.Errorf("digest = %s, want %s", digest, want)
	}
}
