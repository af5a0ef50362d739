// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/sysconf"
)

func tuneCommand() *cli.Command {
	var revert bool
	var root string

	return &cli.Command{
		Name:    "tune",
		Summary: "Apply production OS tuning for an always-on device",
		Description: `Write sysctl, journald, and logind drop-in fragments tuned for a
small always-on voice device on an SD card. Fragments carry an
ownership header and are rewritten only when content differs, so
re-running never duplicates anything and --revert removes exactly what
tune wrote.`,
		Usage: "lyra tune [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("tune", pflag.ContinueOnError)
			flagSet.BoolVar(&revert, "revert", false, "remove the managed fragments")
			flagSet.StringVar(&root, "root", "/", "filesystem root to write under (for staging)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Apply tuning and reload the affected services",
				Command:     "lyra tune",
			},
			{
				Description: "Undo everything tune manages",
				Command:     "lyra tune --revert",
			},
		},
		Run: func(args []string) error {
			return runTune(revert, root)
		},
	}
}

func runTune(revert bool, root string) error {
	logger := cli.NewCommandLogger().With("command", "tune")
	fragments := sysconf.Fragments(root)

	var report *sysconf.Report
	var err error
	if revert {
		report, err = sysconf.Revert(fragments, logger)
	} else {
		report, err = sysconf.Apply(fragments, logger)
	}
	if err != nil {
		return err
	}

	for _, path := range report.Written {
		fmt.Printf("wrote %s\n", path)
	}
	for _, path := range report.Removed {
		fmt.Printf("removed %s\n", path)
	}
	for _, path := range report.Unchanged {
		fmt.Printf("unchanged %s\n", path)
	}

	// Reload only makes sense against the live system.
	if report.Changed() && root == "/" {
		ctx, cancel := signalContext()
		defer cancel()
		sysconf.Reload(ctx, logger)
	}

	if !report.Changed() {
		fmt.Println("nothing to do")
	}
	return nil
}
