// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/credboot/cmd/credboot/cli"
	"github.com/bureau-foundation/credboot/lib/bootstrap"
	"github.com/bureau-foundation/credboot/lib/fault"
	"github.com/bureau-foundation/credboot/lib/sshagent"
)

func envCommand(deps Deps) *cli.Command {
	var verbose bool
	return &cli.Command{
		Name:    "env",
		Summary: "Print shell assignments for the running agent",
		Description: `Print SSH_AUTH_SOCK and SSH_AGENT_PID for the agent a previous setup
started, in the form ssh-agent prints them. Nothing is spawned: when no
live agent is found the command fails.`,
		Usage: "credboot env [flags]",
		Examples: []cli.Example{
			{
				Description: "Attach a new shell to the agent",
				Command:     `eval "$(credboot env)"`,
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("env", pflag.ContinueOnError)
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
			return flagSet
		},
		NoArgs: true,
		Run: func(ctx context.Context, _ []string) error {
			env, err := deps.Environment()
			if err != nil {
				return err
			}
			orchestrator, err := bootstrap.New(env, bootstrap.Options{
				Runner: deps.Runner,
				Logger: cli.NewCommandLogger(deps.Stderr, verbose).With("command", "env"),
			})
			if err != nil {
				return err
			}
			manager, err := orchestrator.AgentManager(nil)
			if err != nil {
				return err
			}
			session, err := manager.Discover(ctx)
			if errors.Is(err, sshagent.ErrNoSession) {
				return fault.Resource("%w", err).WithHint(`run "credboot setup" to start one`)
			}
			if err != nil {
				return err
			}
			printShellEnv(deps.Stdout, session.Environ())
			return nil
		},
	}
}

// printShellEnv writes ssh-agent style assignments, one per line.
func printShellEnv(w io.Writer, environ []string) {
	for _, assignment := range environ {
		name, value, _ := strings.Cut(assignment, "=")
		fmt.Fprintf(w, "%s=%s; export %s;\n", name, shellQuote(value), name)
	}
}

// shellQuote single-quotes value unless it is made only of characters
// that need no quoting.
func shellQuote(value string) string {
	safe := value != "" && strings.IndexFunc(value, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case strings.ContainsRune("/._-+:@%", r):
			return false
		}
		return true
	}) < 0
	if safe {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
