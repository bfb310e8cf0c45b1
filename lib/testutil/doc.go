// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for credboot packages.
//
// [SocketDir] creates a short directory in /tmp for Unix domain
// sockets. Socket paths are limited to 108 bytes (sun_path in
// sockaddr_un), and t.TempDir() paths can exceed that. The prefix is
// chosen by the caller so tests can place sockets inside directories
// that the agent socket policy accepts, for example /tmp/ssh-*/.
//
// [ServeAgent] runs an in-process SSH agent (an ssh/agent keyring) on
// such a socket for tests that speak the agent protocol.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
