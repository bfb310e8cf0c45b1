// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// credboot bootstraps developer credentials from a 1Password vault: it
// loads SSH keys into ssh-agent and configures git identity and SSH
// commit signing.
//
// Usage:
//
//	credboot setup [flags]
//	credboot doctor [--fix] [--json]
//	credboot env
//	credboot version
package main

import (
	"context"
	"errors"
	"os"

	"github.com/bureau-foundation/credboot/cmd/credboot/cli"
	"github.com/bureau-foundation/credboot/cmd/credboot/commands"
	"github.com/bureau-foundation/credboot/lib/process"
)

func main() {
	root := commands.Root(commands.DefaultDeps())
	if err := root.Execute(context.Background(), os.Args[1:]); err != nil {
		// A command that already wrote its own report exits quietly.
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		process.Fatal(err)
	}
}
