// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to "git config" for the identity
// and signing settings credboot manages. Every call targets one
// configuration scope, either the user's global file or an explicit
// file, which is injected by all Config methods the way a repository
// directory would be injected via -C.
package git

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bureau-foundation/credboot/lib/command"
)

// DefaultTimeout bounds one git invocation.
const DefaultTimeout = 10 * time.Second

var keyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*(\.[A-Za-z0-9-]+)+$`)

// ErrInvalidSetting is returned (wrapped) for keys or values git would
// misinterpret.
var ErrInvalidSetting = errors.New("invalid git setting")

// ConfigOptions configures a Config.
type ConfigOptions struct {
	// Binary is the git executable. Defaults to "git" resolved via
	// the PATH entry of Env.
	Binary string

	// File selects "git config --file <File>". Empty means --global.
	File string

	// Env is the complete environment for git; it must carry HOME for
	// the global scope to resolve.
	Env []string

	Runner  command.Runner
	Timeout time.Duration
}

// Config is one git configuration scope.
type Config struct {
	options ConfigOptions
}

// NewConfig returns a Config for the given scope.
func NewConfig(options ConfigOptions) *Config {
	if options.Binary == "" {
		options.Binary = "git"
	}
	if options.Runner == nil {
		options.Runner = command.Exec{}
	}
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	return &Config{options: options}
}

// Scope describes the target for logs: "global" or the file path.
func (c *Config) Scope() string {
	if c.options.File == "" {
		return "global"
	}
	return c.options.File
}

func (c *Config) scopeArgs() []string {
	if c.options.File == "" {
		return []string{"--global"}
	}
	return []string{"--file", c.options.File}
}

// Run executes "git config <scope> args..." and returns stdout.
// Stderr is included in the error on failure.
func (c *Config) Run(ctx context.Context, args ...string) (string, error) {
	output, _, err := c.run(ctx, args...)
	return output, err
}

func (c *Config) run(ctx context.Context, args ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	fullArgs := append(append([]string{"config"}, c.scopeArgs()...), args...)
	result, err := c.options.Runner.Run(ctx, command.Spec{
		Path: c.options.Binary,
		Args: fullArgs,
		Env:  c.options.Env,
	})
	if err != nil {
		return "", result.ExitCode, fmt.Errorf("git config %s (%s): %w", strings.Join(args, " "), c.Scope(), err)
	}
	return string(result.Stdout), 0, nil
}

// Get returns the value of key. A key that is not set returns
// ("", false, nil).
func (c *Config) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	output, exitCode, err := c.run(ctx, "--get", key)
	if exitCode == 1 {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimRight(output, "\n"), true, nil
}

// Set replaces every value of key with value.
func (c *Config) Set(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\n\r\x00") {
		return fmt.Errorf("%w: value for %s contains a line break or NUL", ErrInvalidSetting, key)
	}
	// "--" keeps a value such as "-x" from being read as an option.
	_, err := c.Run(ctx, "--replace-all", "--", key, value)
	return err
}

// Unset removes key. Unsetting a key that is not set is not an error.
func (c *Config) Unset(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	_, exitCode, err := c.run(ctx, "--unset-all", key)
	if exitCode == 5 {
		return nil
	}
	return err
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: key %q", ErrInvalidSetting, key)
	}
	return nil
}
