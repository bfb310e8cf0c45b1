// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds and destroys sensitive material: vault tokens,
// private keys, and anything else that must not outlive its use.
//
// [Buffer] keeps bytes in an anonymous mmap region outside the Go heap,
// locked into RAM (mlock) and excluded from core dumps
// (MADV_DONTDUMP). Close zeroes, unlocks, and unmaps the region. The
// garbage collector never sees the memory, so it cannot leave copies
// behind.
//
// [Zero] wipes ordinary byte slices that had to pass through the heap
// (subprocess output, JSON decoding scratch space).
//
// [Shred] destroys files: it overwrites the contents several times and
// unlinks the path, preferring the system shred(1) tool and falling
// back to an in-process random overwrite when the tool is missing.
//
// Depends on golang.org/x/sys/unix. No other credboot packages.
package secret
