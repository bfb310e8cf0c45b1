// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config discovers and loads credboot's KEY=value settings.
//
// Settings come from an ordered list of sources. The process
// environment is consulted first, then an explicit --config file, then
// files next to the executable, in the working directory, at the git
// project root, under $XDG_CONFIG_HOME/credboot, and in the home
// directory. The first source that defines a key wins; later
// definitions are ignored.
//
// Only allow-listed keys are accepted (see [Keys]). The vault token is
// held in a [secret.Buffer] and never converted to a Go string; every
// report and log line names keys and source paths, never values.
//
// Each candidate file is opened without following symlinks and checked
// before it is read:
//
//   - group- or world-writable files are skipped with a security warning
//   - group- or world-readable files load with a warning
//   - files owned by neither the current user nor root load with a warning
//   - files larger than 64 KiB are skipped
//
// At most 1000 lines are read per file and at most 32 recognized
// assignments across all files; anything beyond is ignored with a
// warning.
package config
