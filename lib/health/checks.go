// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/credboot/lib/identity"
	"github.com/bureau-foundation/credboot/lib/vault"
)

// GitReader reads git configuration.
type GitReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// KeyCounter reports how many identities the agent holds.
type KeyCounter interface {
	KeyCount(ctx context.Context) (int, error)
}

// AccountSource reports the signed-in vault account.
type AccountSource interface {
	WhoAmI(ctx context.Context) (vault.Account, error)
}

// IdentityCheck passes when git has both user.name and user.email.
func IdentityCheck(git GitReader) Check {
	const name = "git identity"
	return Check{Name: name, Run: func(ctx context.Context) Result {
		userName, nameOK, err := git.Get(ctx, identity.KeyUserName)
		if err != nil {
			return Fail(name, err.Error())
		}
		email, emailOK, err := git.Get(ctx, identity.KeyUserEmail)
		if err != nil {
			return Fail(name, err.Error())
		}
		switch {
		case !nameOK && !emailOK:
			return Fail(name, "user.name and user.email are not set")
		case !nameOK:
			return Fail(name, "user.name is not set")
		case !emailOK:
			return Fail(name, "user.email is not set")
		}
		return Pass(name, fmt.Sprintf("%s <%s>", userName, email))
	}}
}

// AgentCheck passes when the agent answers. An empty agent is a
// warning: it is healthy but nothing was loaded.
func AgentCheck(agent KeyCounter) Check {
	const name = "ssh agent"
	return Check{Name: name, Run: func(ctx context.Context) Result {
		if agent == nil {
			return Fail(name, "no agent session")
		}
		count, err := agent.KeyCount(ctx)
		if err != nil {
			return Fail(name, fmt.Sprintf("agent not responding: %v", err))
		}
		if count == 0 {
			return Warn(name, "agent is running but holds no keys")
		}
		return Pass(name, fmt.Sprintf("%d key(s) loaded", count))
	}}
}

// VaultCheck passes when the vault CLI reports a signed-in account.
func VaultCheck(source AccountSource) Check {
	const name = "vault session"
	return Check{Name: name, Run: func(ctx context.Context) Result {
		account, err := source.WhoAmI(ctx)
		if err != nil {
			return Fail(name, err.Error())
		}
		if account.Email == "" {
			return Pass(name, "signed in")
		}
		return Pass(name, "signed in as "+account.Email)
	}}
}

// SigningCheck verifies SSH commit signing. It skips when signing was
// never configured, and offers to tighten a loose signing directory.
func SigningCheck(git GitReader, home string) Check {
	const name = "commit signing"
	return Check{Name: name, Run: func(ctx context.Context) Result {
		format, ok, err := git.Get(ctx, identity.KeyGPGFormat)
		if err != nil {
			return Fail(name, err.Error())
		}
		if !ok {
			return Skip(name, "signing not configured")
		}
		if format != "ssh" {
			return Warn(name, fmt.Sprintf("gpg.format is %q, not ssh", format))
		}

		keyPath, ok, err := git.Get(ctx, identity.KeySigningKey)
		if err != nil {
			return Fail(name, err.Error())
		}
		if !ok {
			return Fail(name, "user.signingkey is not set")
		}
		if _, err := os.Stat(keyPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Fail(name, "signing key "+keyPath+" does not exist")
			}
			return Fail(name, err.Error())
		}

		if home != "" && filepath.Dir(keyPath) == identity.SigningDir(home) {
			if result, loose := checkPrivateDir(name, filepath.Dir(keyPath)); loose {
				return result
			}
		}

		commitSign, _, err := git.Get(ctx, identity.KeyCommitGPGSign)
		if err != nil {
			return Fail(name, err.Error())
		}
		if commitSign != "true" {
			return Warn(name, "signing key set but commit.gpgsign is off")
		}
		return Pass(name, "commits signed with "+keyPath)
	}}
}

func checkPrivateDir(name, dir string) (Result, bool) {
	info, err := os.Stat(dir)
	if err != nil {
		return Fail(name, err.Error()), true
	}
	if info.Mode().Perm()&0o077 == 0 {
		return Result{}, false
	}
	return FailWithFix(name,
		fmt.Sprintf("%s has mode %04o, want 0700", dir, info.Mode().Perm()),
		"chmod 0700 "+dir,
		func(context.Context) error { return os.Chmod(dir, 0o700) },
	), true
}
