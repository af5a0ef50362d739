// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/ctl"
	"github.com/lyra-voice/lyra/lib/identity"
	"github.com/lyra-voice/lyra/lib/logspool"
)

func logsCommand() *cli.Command {
	var (
		configPath string
		lines      int
		noFlush    bool
	)

	return &cli.Command{
		Name:    "logs",
		Summary: "Show captured client logs",
		Description: `Decrypt and print the last lines of client output from the log spool.

The newest lines live in the agent's memory until a chunk fills, so by
default the command first asks the running agent to seal them over the
control socket. --no-flush skips that and reads sealed chunks only,
which also works while the agent is stopped.`,
		Usage: "lyra logs [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			flagSet.IntVarP(&lines, "lines", "n", 100, "number of lines to print")
			flagSet.BoolVar(&noFlush, "no-flush", false, "read sealed chunks only, without contacting the agent")
			return flagSet
		},
		Run: func(args []string) error {
			return runLogs(configPath, lines, noFlush)
		},
	}
}

func runLogs(configPath string, lines int, noFlush bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if !noFlush {
		// Best effort: a stopped agent just means nothing to seal.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = ctl.NewClient(cfg.Paths.Socket()).FlushSpool(ctx)
		cancel()
	}

	id, err := identity.Load(cfg.Paths.IdentityDir())
	if err != nil {
		return fmt.Errorf("loading device identity (the spool key derives from it): %w", err)
	}
	defer id.Close()

	spoolKey, err := logspool.DeriveSpoolKey(id.SealKey)
	if err != nil {
		return fmt.Errorf("deriving spool key: %w", err)
	}
	defer spoolKey.Close()

	spool, err := logspool.Open(cfg.Paths.SpoolDir(), spoolKey, logspool.Options{})
	if err != nil {
		return fmt.Errorf("opening log spool: %w", err)
	}
	defer spool.Close()

	captured, err := spool.ReadBack(lines)
	if err != nil {
		return fmt.Errorf("reading spool: %w", err)
	}
	if len(captured) == 0 {
		fmt.Println("no captured log lines")
		return nil
	}
	for _, line := range captured {
		fmt.Printf("%s %-6s %s\n", line.Time.Local().Format("Jan 02 15:04:05"), line.Source, line.Text)
	}
	return nil
}
