// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap runs one credboot setup from start to finish.
//
// An [Orchestrator] sequences the components in a fixed order:
//
//  1. take the per-user instance lock
//  2. load configuration and the compromised-key denylist
//  3. verify the vault CLI binary and confirm the session ("op whoami")
//  4. resolve and apply the git identity (falls back to the local account)
//  5. reuse or spawn the SSH agent
//  6. list SSH key items and load each one through the credential handler
//  7. configure commit signing when a signing item is set
//  8. run the health checks
//
// Everything the run needs from the process environment arrives in an
// [Environment] built once by the command layer, so a run never calls
// os.Getenv and tests can describe a complete user in one struct.
//
// A cleanup registry wraps the run. A signal received outside a
// critical section shreds registered files, releases the lock, and
// exits with status 130; inside a critical section (a key file on disk)
// it is deferred until the file is gone.
package bootstrap
