// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile replaces small files so readers never observe a
// partial write.
//
// [Write] writes to a uniquely named temporary file in the target's
// directory, fsyncs it, renames it over the target, and fsyncs the
// directory. The temporary file gets its final mode before any byte is
// written. credboot uses it for the agent session descriptor and the
// signing key files.
package atomicfile
