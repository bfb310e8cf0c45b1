// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework credboot's subcommands
// are built on.
//
// A [Command] owns a lazily built [pflag.FlagSet], optional
// [Command.Subcommands] and aliases, and a context-aware Run function.
// [Command.Execute] routes the first positional argument to a
// subcommand, parses flags, and renders help with examples. Unknown
// commands and flags get a "did you mean" suggestion: the nearest
// known name by edit distance, at most three edits away.
//
// [NewCommandLogger] picks text output on a terminal and JSON
// otherwise. [ExitError] lets a command that already printed its own
// report exit non-zero without an extra error line.
package cli
