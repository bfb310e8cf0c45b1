// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command represents a CLI command or subcommand.
type Command struct {
	// Name is the command name as typed by the user (e.g., "setup").
	Name string

	// Aliases are alternative names accepted for dispatch. They are
	// listed in help but not used for suggestions.
	Aliases []string

	// Summary is a one-line description shown in the parent's listing.
	Summary string

	// Description is shown at the top of the command's own help.
	Description string

	// Usage overrides the synthesized usage line.
	Usage string

	// Examples are shown in the help output after the flags.
	Examples []Example

	// Flags returns a configured *pflag.FlagSet. It is called for every
	// parse and every help rendering, so it must build a fresh set. Nil
	// means the command accepts no flags.
	Flags func() *pflag.FlagSet

	// NoArgs rejects positional arguments left after flag parsing.
	NoArgs bool

	// Subcommands are dispatched by the first positional argument.
	Subcommands []*Command

	// Run executes the command with the remaining args. When both Run
	// and Subcommands are set, Run handles args that name no
	// subcommand.
	Run func(ctx context.Context, args []string) error

	// HelpOutput receives help text; nil inherits the parent's, and
	// the root defaults to os.Stderr.
	HelpOutput io.Writer

	parent *Command
}

// Example is a usage example shown in help output.
type Example struct {
	Description string
	Command     string
}

// Execute parses args and dispatches to the matching subcommand or to
// Run. It is the entry point for the whole tree.
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(c.helpOutput())
		return nil
	}

	if len(c.Subcommands) > 0 && len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		if sub := c.lookup(args[0]); sub != nil {
			sub.parent = c
			return sub.Execute(ctx, args[1:])
		}
		if c.Run == nil {
			return c.unknownCommand(args[0])
		}
	}

	if c.Run == nil {
		c.PrintHelp(c.helpOutput())
		switch {
		case len(c.Subcommands) == 0:
			return fmt.Errorf("no action defined for %q", c.fullName())
		case len(args) == 0:
			return errors.New("subcommand required")
		default:
			return fmt.Errorf("subcommand required (got flag %q)", args[0])
		}
	}

	remaining, err := c.parseFlags(args)
	if err != nil {
		return err
	}
	if c.NoArgs && len(remaining) > 0 {
		return c.usageError(fmt.Sprintf("unexpected argument %q", remaining[0]))
	}
	return c.Run(ctx, remaining)
}

func (c *Command) lookup(name string) *Command {
	for _, sub := range c.Subcommands {
		if sub.Name == name || slices.Contains(sub.Aliases, name) {
			return sub
		}
	}
	return nil
}

func (c *Command) unknownCommand(name string) error {
	names := make([]string, 0, len(c.Subcommands))
	for _, sub := range c.Subcommands {
		names = append(names, sub.Name)
	}
	if suggestion := closest(name, names); suggestion != "" {
		return c.usageError(fmt.Sprintf("unknown command %q (did you mean %q?)", name, suggestion))
	}
	return c.usageError(fmt.Sprintf("unknown command %q", name))
}

// parseFlags returns the positional arguments. pflag's own error
// output is discarded in favor of messages carrying a suggestion.
func (c *Command) parseFlags(args []string) ([]string, error) {
	if c.Flags == nil {
		return args, nil
	}
	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)
	err := flagSet.Parse(args)
	if err == nil {
		return flagSet.Args(), nil
	}

	var notExist *pflag.NotExistError
	if errors.As(err, &notExist) {
		// A fresh set: the failed parse may have consumed state.
		if suggestion := suggestFlag(notExist, c.Flags()); suggestion != "" {
			return nil, c.usageError(fmt.Sprintf("%v (did you mean %s?)", err, suggestion))
		}
	}
	return nil, c.usageError(err.Error())
}

func (c *Command) usageError(message string) error {
	return fmt.Errorf("%s\n\nRun '%s --help' for usage.", message, c.fullName())
}

// PrintHelp writes structured help output to w.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	switch {
	case c.Description != "":
		fmt.Fprintf(w, "%s\n\n", c.Description)
	case c.Summary != "":
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	usage := c.Usage
	if usage == "" {
		usage = name + " [flags]"
		if len(c.Subcommands) > 0 {
			usage = name + " <command> [flags]"
		}
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)
	if len(c.Aliases) > 0 {
		fmt.Fprintf(w, "\nAliases:\n  %s\n", strings.Join(append([]string{c.Name}, c.Aliases...), ", "))
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		if usage := c.Flags().FlagUsages(); usage != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usage)
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for index, example := range c.Examples {
			if index > 0 {
				fmt.Fprintln(w)
			}
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

func (c *Command) helpOutput() io.Writer {
	for command := c; command != nil; command = command.parent {
		if command.HelpOutput != nil {
			return command.HelpOutput
		}
	}
	return os.Stderr
}

// fullName returns the command path, e.g. "credboot doctor".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
