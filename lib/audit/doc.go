// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records security-relevant events as JSON lines.
//
// The audit stream is separate from the diagnostic log. Each line
// carries the event name, a timestamp, the run ID shared by every
// event of one credboot invocation, the calling function, and a
// details object:
//
//	{"time":"...","level":"INFO","msg":"key_added","run_id":"...","caller":"sshagent.(*Manager).AddKey","details":{"fingerprint":"SHA256:..."}}
//
// Record refuses any detail value that looks like secret material
// (private-key armor, vault tokens, long high-entropy strings), so a
// mistaken call site fails loudly instead of leaking into the log.
package audit
