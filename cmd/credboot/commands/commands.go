// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands assembles the credboot command tree.
package commands

import (
	"io"
	"os"

	"github.com/bureau-foundation/credboot/cmd/credboot/cli"
	"github.com/bureau-foundation/credboot/lib/bootstrap"
	"github.com/bureau-foundation/credboot/lib/command"
)

// Deps are the process-level collaborators every command shares. Tests
// replace them; main uses [DefaultDeps].
type Deps struct {
	Stdout io.Writer
	Stderr io.Writer

	// Environment describes the invoking user. Called once per command.
	Environment func() (bootstrap.Environment, error)

	Runner command.Runner

	// WatchSignals subscribes setup runs to SIGINT, SIGTERM and SIGHUP.
	WatchSignals bool
	Exit         func(code int)
}

// DefaultDeps wires the real process.
func DefaultDeps() Deps {
	return Deps{
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Environment:  HostEnvironment,
		Runner:       command.Exec{},
		WatchSignals: true,
		Exit:         os.Exit,
	}
}

// Root returns the top-level command.
func Root(deps Deps) *cli.Command {
	return &cli.Command{
		Name:    "credboot",
		Summary: "Bootstrap SSH keys and git identity from a 1Password vault",
		Description: `credboot loads the SSH keys stored in a 1Password vault into ssh-agent
and configures git user identity and SSH commit signing.

Run "credboot setup" from a login hook or by hand; it is safe to run
repeatedly. Run "credboot doctor" to check the result.`,
		HelpOutput: deps.Stderr,
		Subcommands: []*cli.Command{
			setupCommand(deps),
			doctorCommand(deps),
			envCommand(deps),
			versionCommand(deps),
		},
	}
}
