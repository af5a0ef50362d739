// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/ctl"
)

func statusCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "status",
		Summary: "Show agent status",
		Description: `Query the running agent over its control socket and print a one-shot
status snapshot: pairing state, client supervision, last heartbeat,
and spool backlog.

Exits 1 when the agent is not running.`,
		Usage: "lyra status [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			return flagSet
		},
		Run: func(args []string) error {
			return runStatus(configPath)
		},
	}
}

func runStatus(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := ctl.NewClient(cfg.Paths.Socket()).Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent is not running (%v)\n", err)
		return &cli.ExitError{Code: 1}
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "agent\tpid %d, version %s, up %s\n",
		status.PID, status.Version, time.Since(status.StartedAt).Round(time.Second))
	if status.Paired {
		fmt.Fprintf(writer, "paired\tyes (%s)\n", status.DeviceID)
	} else {
		fmt.Fprintf(writer, "paired\tno — run 'lyra pair'\n")
	}
	if status.ClientPID != 0 {
		fmt.Fprintf(writer, "client\t%s, pid %d, %d restarts\n",
			status.ClientState, status.ClientPID, status.ClientRestarts)
	} else {
		fmt.Fprintf(writer, "client\t%s, %d restarts\n", status.ClientState, status.ClientRestarts)
	}
	fmt.Fprintf(writer, "heartbeat\t%s\n", describeHeartbeat(status))
	fmt.Fprintf(writer, "spool\t%d pending lines\n", status.SpoolPending)
	fmt.Fprintf(writer, "interventions\t%d executed\n", status.Interventions)
	return writer.Flush()
}

func describeHeartbeat(status *ctl.Status) string {
	if status.LastHeartbeat.IsZero() {
		return "none yet"
	}
	outcome := "ok"
	if !status.LastHeartbeatOK {
		outcome = "failed"
	}
	return fmt.Sprintf("%s, %s ago", outcome, time.Since(status.LastHeartbeat).Round(time.Second))
}
