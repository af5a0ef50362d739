// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the lyra command tree. The tree is shallow:
// the root, a handful of leaf commands (install, pair, verify, ...),
// and the wifi group one level down. A node is either a group
// (Subcommands set) or a leaf (Run set), never both.
type Command struct {
	// Name as typed by the user: "pair", "wifi", "connect".
	Name string

	// Summary is the one-liner in the parent's command listing.
	Summary string

	// Description is the long help text. Shown instead of Summary when
	// both are set.
	Description string

	// Usage overrides the synthesized usage line, e.g.
	// "lyra wifi connect [flags]".
	Usage string

	// Examples are printed at the end of the help text.
	Examples []Example

	// Flags builds this command's flag set. Called fresh for each
	// parse so a failed parse never leaves state behind. Nil means the
	// command takes no flags.
	Flags func() *pflag.FlagSet

	// Subcommands makes this node a group; the first positional arg
	// picks the child.
	Subcommands []*Command

	// Run executes a leaf with the positional args left after flag
	// parsing.
	Run func(args []string) error

	// parent is filled in during dispatch so errors and help can show
	// the full invocation path.
	parent *Command
}

// Example is one worked invocation in the help text.
type Example struct {
	// Description explains what the example does.
	Description string
	// Command is the literal command line.
	Command string
}

// Execute dispatches args through the tree: groups route on the first
// positional arg, leaves parse flags and run. "-h", "--help", and a
// literal "help" at any level print that level's help.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}
	if len(c.Subcommands) > 0 {
		return c.dispatch(args)
	}
	return c.runLeaf(args)
}

// dispatch routes a group invocation to the named child. A group with
// no child named is a usage error, not a runnable state.
func (c *Command) dispatch(args []string) error {
	if len(args) == 0 {
		c.PrintHelp(os.Stderr)
		return fmt.Errorf("subcommand required")
	}

	name := args[0]
	if strings.HasPrefix(name, "-") {
		// A flag where a subcommand belongs. Groups own no flags of
		// their own, so there is nothing to parse it against.
		c.PrintHelp(os.Stderr)
		return fmt.Errorf("subcommand required (got flag %q)", name)
	}

	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub.Execute(args[1:])
		}
	}

	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		return fmt.Errorf("unknown command %q (did you mean %q?)\n\nRun '%s --help' for usage.",
			name, suggestion, c.fullName())
	}
	return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.",
		name, c.fullName())
}

// runLeaf parses the leaf's flags and invokes Run with what remains.
func (c *Command) runLeaf(args []string) error {
	if c.Flags != nil {
		remaining, err := c.parseFlags(args)
		if err != nil {
			return err
		}
		args = remaining
	}
	if c.Run == nil {
		c.PrintHelp(os.Stderr)
		return fmt.Errorf("no action defined for %q", c.fullName())
	}
	return c.Run(args)
}

// parseFlags runs the pflag parse with its own output suppressed; the
// error messages here carry a typo suggestion and a --help pointer
// instead of pflag's usage dump.
func (c *Command) parseFlags(args []string) ([]string, error) {
	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)

	err := flagSet.Parse(args)
	if err == nil {
		return flagSet.Args(), nil
	}

	message := err.Error()
	if strings.Contains(message, "unknown flag") {
		// A fresh flag set for the lookup: the failed parse may have
		// consumed state in this one.
		if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
			return nil, fmt.Errorf("%s (did you mean %s?)\n\nRun '%s --help' for usage.",
				message, suggestion, c.fullName())
		}
	}
	return nil, fmt.Errorf("%s\n\nRun '%s --help' for usage.", message, c.fullName())
}

// PrintHelp writes the help text for this node to w: description,
// usage, child commands for a group, flags for a leaf, then examples.
func (c *Command) PrintHelp(w io.Writer) {
	name := c.fullName()

	switch {
	case c.Description != "":
		fmt.Fprintf(w, "%s\n\n", c.Description)
	case c.Summary != "":
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	switch {
	case c.Usage != "":
		fmt.Fprintf(w, "Usage:\n  %s\n", c.Usage)
	case len(c.Subcommands) > 0:
		fmt.Fprintf(w, "Usage:\n  %s <command> [flags]\n", name)
	default:
		fmt.Fprintf(w, "Usage:\n  %s [flags]\n", name)
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
		var flagHelp strings.Builder
		flagSet := c.Flags()
		flagSet.SetOutput(&flagHelp)
		flagSet.PrintDefaults()
		if flagHelp.Len() > 0 {
			fmt.Fprintf(w, "\nFlags:\n%s", flagHelp.String())
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
			if example.Description != "" {
				fmt.Fprintln(w)
			}
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", name)
	}
}

// fullName walks the parent chain: "lyra wifi connect".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
