// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/credboot/cmd/credboot/cli"
	"github.com/bureau-foundation/credboot/lib/version"
)

func versionCommand(deps Deps) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Usage:   "credboot version",
		NoArgs:  true,
		Run: func(context.Context, []string) error {
			fmt.Fprintf(deps.Stdout, "credboot %s\n", version.Full())
			if digest, path, err := version.SelfDigest(); err == nil {
				fmt.Fprintf(deps.Stdout, "  Binary: %s\n  SHA256: %s\n", path, digest)
			}
			return nil
		},
	}
}
