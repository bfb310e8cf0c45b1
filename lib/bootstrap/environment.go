// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"path/filepath"
	"strings"
)

// File names under the state directory.
const (
	AppName      = "credboot"
	LockFile     = "credboot.lock"
	AuditFile    = "audit.log"
	DenylistFile = "compromised-keys.yaml"
)

// Environment is the process environment of one run.
type Environment struct {
	// Environ is the full environment as KEY=value pairs.
	Environ []string

	UID      int
	Username string
	FullName string
	Hostname string

	Home       string
	WorkDir    string
	Executable string

	// ConfigHome and StateHome are the XDG base directories. RuntimeDir
	// is empty when the user has no runtime directory.
	ConfigHome string
	StateHome  string
	RuntimeDir string
}

// Getenv returns the value of key in Environ.
func (e Environment) Getenv(key string) string {
	prefix := key + "="
	for _, pair := range e.Environ {
		if value, ok := strings.CutPrefix(pair, prefix); ok {
			return value
		}
	}
	return ""
}

// StateDir holds the agent descriptor and the audit log.
func (e Environment) StateDir() string {
	return filepath.Join(e.StateHome, AppName)
}

// LockPath prefers the runtime directory, which is cleared on logout,
// so a lock can never survive a reboot.
func (e Environment) LockPath() string {
	if e.RuntimeDir != "" {
		return filepath.Join(e.RuntimeDir, LockFile)
	}
	return filepath.Join(e.StateDir(), LockFile)
}

// runBase is where the per-run key directory is created.
func (e Environment) runBase() string {
	if e.RuntimeDir != "" {
		return e.RuntimeDir
	}
	return e.StateDir()
}

// DenylistPath is the default location of the compromised-key feed.
func (e Environment) DenylistPath() string {
	return filepath.Join(e.ConfigHome, AppName, DenylistFile)
}
