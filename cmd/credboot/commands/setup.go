// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/credboot/cmd/credboot/cli"
	"github.com/bureau-foundation/credboot/lib/bootstrap"
	"github.com/bureau-foundation/credboot/lib/health"
	"github.com/bureau-foundation/credboot/lib/process"
)

type setupParams struct {
	configPath    string
	denylistPath  string
	lockTimeout   time.Duration
	agentLifetime time.Duration
	maxKeys       int
	skipSigning   bool
	skipHealth    bool
	printEnv      bool
	verbose       bool
}

func setupCommand(deps Deps) *cli.Command {
	var params setupParams
	return &cli.Command{
		Name:    "setup",
		Summary: "Load SSH keys and configure git identity",
		Description: `Load every SSH key item from the vault into ssh-agent, set git user.name
and user.email, and configure SSH commit signing when a signing item is
configured.

An agent named by SSH_AUTH_SOCK, or one a previous run started, is
reused; otherwise a new agent is spawned and recorded for later runs.
Only one setup runs at a time per user.`,
		Usage: "credboot setup [flags]",
		Examples: []cli.Example{
			{
				Description: "Interactive setup",
				Command:     "credboot setup",
			},
			{
				Description: "From a shell profile, exporting the agent into the shell",
				Command:     `eval "$(credboot setup --print-env)"`,
			},
			{
				Description: "Use an explicit configuration file and denylist",
				Command:     "credboot setup --config ~/credboot.conf --denylist /etc/credboot/compromised-keys.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("setup", pflag.ContinueOnError)
			flagSet.StringVar(&params.configPath, "config", "", "configuration file (skips the search path)")
			flagSet.StringVar(&params.denylistPath, "denylist", "", "compromised-key denylist (required to exist when given)")
			flagSet.DurationVar(&params.lockTimeout, "lock-timeout", bootstrap.DefaultLockTimeout, "how long to wait for another setup to finish")
			flagSet.DurationVar(&params.agentLifetime, "agent-lifetime", 0, "lifetime of a spawned agent's keys (0 means the agent default)")
			flagSet.IntVar(&params.maxKeys, "max-keys", 0, "maximum SSH key items to load (0 means the built-in limit)")
			flagSet.BoolVar(&params.skipSigning, "skip-signing", false, "do not configure commit signing")
			flagSet.BoolVar(&params.skipHealth, "no-health", false, "skip the post-setup health checks")
			flagSet.BoolVar(&params.printEnv, "print-env", false, "print shell assignments for the agent on stdout; the report goes to stderr")
			flagSet.BoolVarP(&params.verbose, "verbose", "v", false, "debug logging")
			return flagSet
		},
		NoArgs: true,
		Run: func(ctx context.Context, _ []string) error {
			return runSetup(ctx, deps, params)
		},
	}
}

func runSetup(ctx context.Context, deps Deps, params setupParams) error {
	env, err := deps.Environment()
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(deps.Stderr, params.verbose).With("command", "setup")

	orchestrator, err := bootstrap.New(env, bootstrap.Options{
		ConfigPath:    params.configPath,
		DenylistPath:  params.denylistPath,
		LockTimeout:   params.lockTimeout,
		AgentLifetime: params.agentLifetime,
		MaxKeys:       params.maxKeys,
		SkipSigning:   params.skipSigning,
		SkipHealth:    params.skipHealth,
		Runner:        deps.Runner,
		Logger:        logger,
		WatchSignals:  deps.WatchSignals,
		Exit:          deps.Exit,
	})
	if err != nil {
		return err
	}
	summary, err := orchestrator.Run(ctx)
	if err != nil {
		return err
	}

	report := deps.Stdout
	if params.printEnv {
		report = deps.Stderr
		printShellEnv(deps.Stdout, summary.Session.Environ())
	}
	printSummary(report, summary)
	if params.skipHealth {
		return nil
	}
	fmt.Fprintln(report)
	if err := health.PrintChecklist(report, summary.Health, false); err != nil {
		if errors.Is(err, health.ErrChecksFailed) {
			return &cli.ExitError{Code: process.ExitFailure}
		}
		return err
	}
	return nil
}

func printSummary(w io.Writer, summary bootstrap.Summary) {
	if summary.Account != "" {
		fmt.Fprintf(w, "vault:     signed in as %s\n", summary.Account)
	}
	if summary.Identity.Email != "" {
		fmt.Fprintf(w, "identity:  %s <%s> (%s)\n",
			summary.Identity.Name, summary.Identity.Email, summary.IdentitySource())
	}
	if session := summary.Session; session.SocketPath != "" {
		if session.PID > 0 {
			fmt.Fprintf(w, "agent:     %s (pid %d, %s)\n", session.SocketPath, session.PID, session.Source)
		} else {
			fmt.Fprintf(w, "agent:     %s (%s)\n", session.SocketPath, session.Source)
		}
	}
	fmt.Fprintf(w, "keys:      %d added, %d already loaded, %d failed\n",
		summary.KeysAdded(), summary.KeysPresent(), summary.KeysFailed())
	if signing := summary.Signing; signing != nil {
		fmt.Fprintf(w, "signing:   %s %s (%s)\n", signing.KeyType, signing.Fingerprint, signing.KeyPath)
	}
	for _, warning := range summary.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}
