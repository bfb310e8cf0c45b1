// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/credboot/cmd/credboot/cli"
	"github.com/bureau-foundation/credboot/lib/bootstrap"
	"github.com/bureau-foundation/credboot/lib/health"
	"github.com/bureau-foundation/credboot/lib/process"
	"github.com/bureau-foundation/credboot/lib/sshagent"
)

type doctorParams struct {
	configPath string
	timeout    time.Duration
	fix        bool
	jsonOutput bool
	verbose    bool
}

func doctorCommand(deps Deps) *cli.Command {
	var params doctorParams
	return &cli.Command{
		Name:    "doctor",
		Aliases: []string{"check"},
		Summary: "Check the credential setup without changing it",
		Description: `Check the state a setup leaves behind without changing it: the vault
session, the SSH agent and its keys, the git identity and SSH commit
signing. Nothing is spawned or written unless --fix is given.

With --fix, failures that carry a repair (starting an agent, tightening
the signing key directory) are repaired and reported as fixed.`,
		Usage: "credboot doctor [flags]",
		Examples: []cli.Example{
			{
				Description: "Check the current setup",
				Command:     "credboot doctor",
			},
			{
				Description: "Repair what can be repaired",
				Command:     "credboot doctor --fix",
			},
			{
				Description: "Machine-readable report",
				Command:     "credboot doctor --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
			flagSet.StringVar(&params.configPath, "config", "", "configuration file (skips the search path)")
			flagSet.DurationVar(&params.timeout, "timeout", health.DefaultTimeout, "per-check timeout")
			flagSet.BoolVar(&params.fix, "fix", false, "repair failures that have an automatic fix")
			flagSet.BoolVar(&params.jsonOutput, "json", false, "print the report as JSON")
			flagSet.BoolVarP(&params.verbose, "verbose", "v", false, "debug logging")
			return flagSet
		},
		NoArgs: true,
		Run: func(ctx context.Context, _ []string) error {
			return runDoctor(ctx, deps, params)
		},
	}
}

func runDoctor(ctx context.Context, deps Deps, params doctorParams) error {
	env, err := deps.Environment()
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(deps.Stderr, params.verbose).With("command", "doctor")
	orchestrator, err := bootstrap.New(env, bootstrap.Options{
		ConfigPath: params.configPath,
		Runner:     deps.Runner,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	checks := []health.Check{vaultCheck(orchestrator)}
	gitConfig := orchestrator.GitConfig()
	checks = append(checks, health.IdentityCheck(gitConfig))
	manager, err := orchestrator.AgentManager(nil)
	if err != nil {
		return err
	}
	checks = append(checks, agentCheck(manager), health.SigningCheck(gitConfig, env.Home))

	report := health.Run(ctx, checks, health.Options{Timeout: params.timeout})
	if params.fix {
		if fixed := health.ExecuteFixes(ctx, &report); fixed > 0 {
			logger.Info("repairs applied", "fixed", fixed)
		}
	}

	if params.jsonOutput {
		if err := writeJSON(deps.Stdout, report); err != nil {
			return err
		}
		if !report.OK() {
			return &cli.ExitError{Code: process.ExitFailure}
		}
		return nil
	}
	if err := health.PrintChecklist(deps.Stdout, report, params.fix); err != nil {
		if errors.Is(err, health.ErrChecksFailed) {
			return &cli.ExitError{Code: process.ExitFailure}
		}
		return err
	}
	return nil
}

// vaultCheck loads configuration lazily so a broken config file is a
// failed check rather than a doctor crash.
func vaultCheck(orchestrator *bootstrap.Orchestrator) health.Check {
	const name = "vault session"
	return health.Check{Name: name, Run: func(ctx context.Context) health.Result {
		client, closer, err := orchestrator.VaultClient(nil)
		if err != nil {
			return health.Fail(name, err.Error())
		}
		defer closer.Close()
		if _, err := client.VerifyBinary(); err != nil {
			return health.Fail(name, err.Error())
		}
		return health.VaultCheck(client).Run(ctx)
	}}
}

// agentCheck discovers the agent without spawning one. A missing agent
// is fixable by starting one the way setup would.
func agentCheck(manager *sshagent.Manager) health.Check {
	const name = "ssh agent"
	return health.Check{Name: name, Run: func(ctx context.Context) health.Result {
		_, err := manager.Discover(ctx)
		if errors.Is(err, sshagent.ErrNoSession) {
			return health.FailWithFix(name, "no running agent found", "start an agent", func(ctx context.Context) error {
				_, err := manager.EnsureSession(ctx)
				return err
			})
		}
		if err != nil {
			return health.Fail(name, err.Error())
		}
		return health.AgentCheck(manager).Run(ctx)
	}}
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
