// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "lyra",
		Subcommands: []*Command{
			{
				Name: "version",
				Run: func(args []string) error {
					called = "version"
					return nil
				},
			},
			{
				Name: "status",
				Run: func(args []string) error {
					called = "status"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"status"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "status" {
		t.Errorf("dispatched to %q, want %q", called, "status")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "lyra",
		Subcommands: []*Command{
			{
				Name: "wifi",
				Subcommands: []*Command{
					{
						Name: "connect",
						Run: func(args []string) error {
							called = "wifi connect"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"wifi", "connect", "extra-arg"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "wifi connect" {
		t.Errorf("dispatched to %q, want %q", called, "wifi connect")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "extra-arg" {
		t.Errorf("args = %v, want [extra-arg]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var socketPath string
	var target string

	command := &Command{
		Name: "status",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "/default.sock", "socket path")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--socket", "/custom.sock", "extra"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if socketPath != "/custom.sock" {
		t.Errorf("socketPath = %q, want %q", socketPath, "/custom.sock")
	}
	if target != "extra" {
		t.Errorf("target = %q, want %q", target, "extra")
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "logs",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flagSet.Bool("follow", false, "keep reading")
			flagSet.Int("lines", 100, "line count")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--folow"})
	if err == nil {
		t.Fatal("Execute() with unknown flag succeeded, want error")
	}
	if !strings.Contains(err.Error(), "--follow") {
		t.Errorf("error %q does not suggest --follow", err)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name: "lyra",
		Subcommands: []*Command{
			{Name: "verify", Run: func(args []string) error { return nil }},
			{Name: "status", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute([]string{"verfy"})
	if err == nil {
		t.Fatal("Execute() with unknown subcommand succeeded, want error")
	}
	if !strings.Contains(err.Error(), `"verify"`) {
		t.Errorf("error %q does not suggest verify", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	root := &Command{
		Name: "wifi",
		Subcommands: []*Command{
			{Name: "connect", Run: func(args []string) error { return nil }},
		},
	}

	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute() with no args and no Run succeeded, want error")
	}
}

func TestCommand_Execute_FlagInPlaceOfSubcommand(t *testing.T) {
	root := &Command{
		Name: "wifi",
		Subcommands: []*Command{
			{Name: "connect", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute([]string{"--verbose"})
	if err == nil {
		t.Fatal("Execute() with a flag and no subcommand succeeded, want error")
	}
	if !strings.Contains(err.Error(), "--verbose") {
		t.Errorf("error %q does not name the offending flag", err)
	}
}

func TestCommand_Execute_HelpFlagPrintsHelp(t *testing.T) {
	ran := false
	root := &Command{
		Name:    "lyra",
		Summary: "Voice assistant device tool",
		Subcommands: []*Command{
			{Name: "pair", Summary: "Pair with the backend", Run: func(args []string) error {
				ran = true
				return nil
			}},
		},
	}

	if err := root.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute(--help) error: %v", err)
	}
	if ran {
		t.Error("help flag ran a subcommand")
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "lyra",
		Description: "Voice assistant device tool.",
		Subcommands: []*Command{
			{Name: "install", Summary: "Install the voice client"},
			{Name: "verify", Summary: "Check production readiness"},
		},
		Examples: []Example{
			{Description: "Check the device end to end", Command: "lyra verify"},
		},
	}

	var out bytes.Buffer
	command.PrintHelp(&out)
	help := out.String()

	for _, want := range []string{
		"Voice assistant device tool.",
		"install",
		"Check production readiness",
		"lyra verify",
		"Run 'lyra <command> --help'",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q:\n%s", want, help)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	connect := &Command{Name: "connect", Run: func(args []string) error { return nil }}
	wifi := &Command{Name: "wifi", Subcommands: []*Command{connect}}
	root := &Command{Name: "lyra", Subcommands: []*Command{wifi}}

	// Dispatch sets parents.
	root.Execute([]string{"wifi", "connect"})

	if got := connect.fullName(); got != "lyra wifi connect" {
		t.Errorf("fullName() = %q, want %q", got, "lyra wifi connect")
	}
}
