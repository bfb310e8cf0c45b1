// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/adrg/xdg"

	"github.com/bureau-foundation/credboot/lib/bootstrap"
)

// HostEnvironment describes the invoking user from the process
// environment, the password database and the XDG base directories.
func HostEnvironment() (bootstrap.Environment, error) {
	account, err := user.Current()
	if err != nil {
		return bootstrap.Environment{}, fmt.Errorf("looking up the current user: %w", err)
	}
	home := xdg.Home
	if home == "" {
		home = account.HomeDir
	}
	// Each of these is optional context; an error leaves it empty.
	hostname, _ := os.Hostname()
	executable, _ := os.Executable()
	workDir, _ := os.Getwd()
	return bootstrap.Environment{
		Environ:    os.Environ(),
		UID:        os.Getuid(),
		Username:   account.Username,
		FullName:   gecosName(account.Name),
		Hostname:   hostname,
		Home:       home,
		WorkDir:    workDir,
		Executable: executable,
		ConfigHome: xdg.ConfigHome,
		StateHome:  xdg.StateHome,
		RuntimeDir: existingDir(xdg.RuntimeDir),
	}, nil
}

// gecosName keeps the full-name part of a GECOS field
// ("Ada Lovelace,Room 1,,").
func gecosName(gecos string) string {
	name, _, _ := strings.Cut(gecos, ",")
	return strings.TrimSpace(name)
}

// existingDir returns path when it is a directory, else "". xdg falls
// back to /run/user/<uid> even on hosts without one.
func existingDir(path string) string {
	if path == "" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return ""
	}
	return path
}
