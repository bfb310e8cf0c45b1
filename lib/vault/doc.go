// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault drives the 1Password CLI (op) as an opaque,
// authenticated command.
//
// [Client.VerifyBinary] resolves the op binary through symlinks and
// refuses to use one outside the allow-listed install directories or
// one that other users could modify. Every call then runs op as an
// argument vector with its own timeout and a minimal environment that
// carries the service-account token.
//
// Calls are rate limited per operation. Output is size-capped,
// JSON-validated, and screened for command-injection markers before
// it is decoded. Failures are classified into fault kinds; network
// failure messages are scrubbed of hostnames, addresses, and URLs.
// The read operations ([Client.WhoAmI], [Client.GetItem],
// [Client.ListItems]) are idempotent and retried on network and
// generic failures.
//
// Item field values decode straight into byte slices ([SecretValue])
// so private keys never become Go strings. Call [Item.Wipe] when done.
package vault
