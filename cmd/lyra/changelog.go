// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/mdview"
)

func changelogCommand() *cli.Command {
	var (
		configPath string
		width      int
	)

	return &cli.Command{
		Name:    "changelog",
		Summary: "Show the app release notes",
		Description: `Render the app repository's CHANGELOG.md as styled terminal text.

Reads the checkout under the state directory, so it shows the notes
for the version actually installed on this device.`,
		Usage: "lyra changelog [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("changelog", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			flagSet.IntVar(&width, "width", 0, "render width (default: terminal width)")
			return flagSet
		},
		Run: func(args []string) error {
			return runChangelog(configPath, width)
		},
	}
}

func runChangelog(configPath string, width int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.Paths.AppDir(), "CHANGELOG.md")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no changelog at %s; run 'lyra install' first", path)
		}
		return fmt.Errorf("reading changelog: %w", err)
	}

	if width <= 0 {
		width = renderWidth()
	}
	fmt.Print(mdview.Render(string(raw), width))
	return nil
}

// renderWidth is the terminal width capped for readability, or a fixed
// width when stdout is not a terminal.
func renderWidth() int {
	const fallback = 80
	cols, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || cols <= 0 {
		return fallback
	}
	if cols > 100 {
		return 100
	}
	return cols
}
