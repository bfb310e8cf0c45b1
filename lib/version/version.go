// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/bureau-foundation/credboot/lib/binhash"
)

// Injected at link time:
//
//	go build -ldflags "-X github.com/bureau-foundation/credboot/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
)

// Info is the one-line form, e.g. "0.1.0 (abc1234-dirty, 2026-02-10T09:00:00Z)".
// A commit that was not injected is taken from the module build info
// when the binary was built inside a git checkout.
func Info() string {
	commit, dirty, built := GitCommit, GitDirty == "true", BuildTime
	if commit == "unknown" {
		commit, dirty, built = fromBuildInfo(commit, dirty, built)
	}
	if dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, built)
}

// Full adds the Go toolchain and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short is the bare version number.
func Short() string {
	return Version
}

func fromBuildInfo(commit string, dirty bool, built string) (string, bool, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, dirty, built
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			commit = setting.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		case "vcs.time":
			if built == "unknown" {
				built = setting.Value
			}
		}
	}
	return commit, dirty, built
}

// SelfDigest returns the SHA256 digest and path of the running binary.
// On Linux os.Executable reads /proc/self/exe, which names the original
// file even if it has since been replaced on disk.
func SelfDigest() (binhash.Digest, string, error) {
	executable, err := os.Executable()
	if err != nil {
		return binhash.Digest{}, "", fmt.Errorf("resolving own executable path: %w", err)
	}
	digest, err := binhash.HashFile(executable)
	if err != nil {
		return binhash.Digest{}, "", err
	}
	return digest, executable, nil
}
