// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential moves SSH private keys from vault items into the
// agent with the shortest exposure window it can manage.
//
// [Handler.Load] handles one item:
//
//  1. Create a 0600 temp file inside the owner-only run directory and
//     register it with the cleanup registry.
//  2. Extract the key from the item (SSHKEY field, then labels, then
//     any PEM private-key value).
//  3. Validate size, header, and parse; compute the SHA256 fingerprint
//     and check it against the compromised-key [Denylist].
//  4. Write and fsync the file.
//  5. Enter a critical section: interruption signals are deferred.
//  6. Add the key to the agent with a timeout.
//  7. Shred the temp file and verify it is gone.
//  8. Zero and unmap the in-memory copy.
//  9. Leave the critical section, delivering any deferred signal.
//
// Every failure path still shreds the temp file. The cleanup registry
// covers the remaining case of an interruption outside the critical
// section.
//
// [Handler.LoadAll] applies Load to a list of items with a per-run cap
// and a pause between batches so the vault rate limit is never hit.
package credential
