// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Command lyra is the device provisioning and operations tool for the
// Lyra voice assistant: install the client app, join WiFi, pair with
// the backend, tune the OS, and inspect the running agent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like status) return an
		// ExitError with the desired exit code. Don't print a redundant
		// "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().Execute(os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name: "lyra",
		Description: `Lyra: voice assistant device tool.

Provision a device (install, wifi, pair, tune), verify it is
production-ready, and inspect the running agent (status, logs, watch).`,
		Subcommands: []*cli.Command{
			installCommand(),
			uninstallCommand(),
			wifiCommand(),
			pairCommand(),
			tuneCommand(),
			verifyCommand(),
			statusCommand(),
			logsCommand(),
			changelogCommand(),
			watchCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("lyra %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Provision a fresh device end to end",
				Command:     "lyra install && lyra wifi connect && lyra pair && lyra tune",
			},
			{
				Description: "Check production readiness",
				Command:     "lyra verify",
			},
			{
				Description: "One-shot agent status",
				Command:     "lyra status",
			},
			{
				Description: "Live dashboard",
				Command:     "lyra watch",
			},
			{
				Description: "Tail captured client logs",
				Command:     "lyra logs --lines 200",
			},
		},
	}
}

// loadConfig loads the agent configuration, honoring an explicit
// --config path over the discovery chain.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// signalContext returns a context cancelled by SIGINT/SIGTERM, for
// commands that poll or block.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
