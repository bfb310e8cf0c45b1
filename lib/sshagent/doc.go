// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sshagent finds or starts the ssh-agent that receives keys
// and adds keys to it.
//
// A [Manager] resolves a session in three steps: the SSH_AUTH_SOCK
// handle passed in by the caller, then the session descriptor file
// left by a previous run, then a freshly spawned "ssh-agent -s". Every
// socket is checked by [ValidateSocket] before use and probed over the
// agent protocol with [Probe]. The descriptor is only read and written
// while holding a flock on its companion lock file, so concurrent runs
// agree on a single agent.
//
// The descriptor uses the same shell-assignment format ssh-agent
// prints, parsed by a strict line grammar that accepts nothing else:
//
//	SSH_AUTH_SOCK=/tmp/ssh-XXXXXXabcdef/agent.4242; export SSH_AUTH_SOCK;
//	SSH_AGENT_PID=4243; export SSH_AGENT_PID;
//	echo Agent pid 4243;
//
// [Manager.AddKey] shells out to ssh-add with an explicit lifetime
// and reports whether the key was added or already present.
package sshagent
