// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/ctl"
	"github.com/lyra-voice/lyra/lib/process"
	"github.com/lyra-voice/lyra/lib/statefile"
)

func uninstallCommand() *cli.Command {
	var configPath string
	var yes, purgeIdentity bool

	return &cli.Command{
		Name:    "uninstall",
		Summary: "Remove the voice client and agent state",
		Description: `Stop the agent if it is running, then remove the app checkout, log
spool, journal, and state markers. Device identity keys are kept
unless --purge-identity is given: a re-install of a device that keeps
its keys stays paired.`,
		Usage: "lyra uninstall [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("uninstall", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			flagSet.BoolVar(&yes, "yes", false, "skip the confirmation prompt")
			flagSet.BoolVar(&purgeIdentity, "purge-identity", false, "also remove device identity keys and pairing")
			return flagSet
		},
		Run: func(args []string) error {
			return runUninstall(configPath, yes, purgeIdentity)
		},
	}
}

func runUninstall(configPath string, yes, purgeIdentity bool) error {
	logger := cli.NewCommandLogger().With("command", "uninstall")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !yes {
		fmt.Printf("This removes the app checkout and all agent state under %s.\n", cfg.Paths.State)
		if purgeIdentity {
			fmt.Println("Device identity keys will ALSO be removed; the device must re-pair.")
		}
		if !confirm("Continue? [y/N] ") {
			fmt.Println("aborted")
			return nil
		}
	}

	stopAgent(cfg, logger)

	removed := removeInstallState(cfg, purgeIdentity)
	if len(removed) == 0 {
		fmt.Println("nothing to remove")
		return nil
	}
	for _, path := range removed {
		fmt.Printf("removed %s\n", path)
	}
	return nil
}

// stopAgent asks a running agent to exit: control socket first, then
// PID file + SIGTERM. A device with no agent running is not an error.
func stopAgent(cfg *config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client := ctl.NewClient(cfg.Paths.Socket())
	if err := client.Stop(ctx); err == nil {
		waitAgentExit(ctx, cfg.Paths.PIDFile())
		return
	}

	entry, err := statefile.ReadPID(cfg.Paths.PIDFile())
	if err != nil || entry.PID == 0 || !process.Alive(entry.PID) {
		return
	}
	if err := syscall.Kill(entry.PID, syscall.SIGTERM); err != nil {
		logger.Warn("signalling agent", "pid", entry.PID, "error", err)
		return
	}
	waitAgentExit(ctx, cfg.Paths.PIDFile())
}

func waitAgentExit(ctx context.Context, pidPath string) {
	for ctx.Err() == nil {
		entry, err := statefile.ReadPID(pidPath)
		if err != nil || entry.PID == 0 || !process.Alive(entry.PID) {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// removeInstallState deletes install artifacts and returns the paths
// that were actually present.
func removeInstallState(cfg *config.Config, purgeIdentity bool) []string {
	targets := []string{
		cfg.Paths.AppDir(),
		cfg.Paths.SpoolDir(),
		cfg.Paths.JournalDB(),
		cfg.Paths.ActivityFile(),
		cfg.Paths.TransitionFile(),
		cfg.Paths.BinaryRecordFile(),
		cfg.Paths.PairingCodeFile(),
		cfg.Paths.PIDFile(),
		cfg.Paths.Socket(),
		cfg.Paths.EnvFile(),
		filepath.Join(cfg.Paths.Etc, "agent.yaml"),
	}
	if purgeIdentity {
		targets = append(targets, cfg.Paths.IdentityDir())
	}

	var removed []string
	for _, target := range targets {
		if _, err := os.Stat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			fmt.Fprintf(os.Stderr, "warning: removing %s: %v\n", target, err)
			continue
		}
		removed = append(removed, target)
	}
	return removed
}

// confirm reads a single line from stdin and reports whether the user
// answered yes.
func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
