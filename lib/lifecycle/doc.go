// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle turns interruption signals into a single, ordered
// shutdown, and lets sensitive operations defer that shutdown until
// they finish.
//
// [Watch] installs a handler for SIGINT, SIGTERM, and SIGHUP. Outside
// any critical section, the first signal invokes the handler at once
// (the orchestrator's handler runs cleanup, releases the instance lock,
// and exits 130). Inside a critical section the signal is held; it is
// delivered when the outermost [CriticalSection] exits, so an operation
// like "add key to agent, then shred the key file" is never left half
// done.
//
//	section := interrupts.Enter()
//	defer section.Exit()
//
// A nil *Interrupts is valid: Enter returns a section whose Exit does
// nothing, which keeps components usable without signal wiring.
package lifecycle
