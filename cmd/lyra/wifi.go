// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/wifi"
)

// onlineTimeout bounds the post-connect wait for internet reachability.
const onlineTimeout = 90 * time.Second

func wifiCommand() *cli.Command {
	return &cli.Command{
		Name:    "wifi",
		Summary: "Join and inspect WiFi networks",
		Subcommands: []*cli.Command{
			wifiConnectCommand(),
			wifiStatusCommand(),
		},
	}
}

func wifiConnectCommand() *cli.Command {
	var ssid, password string

	return &cli.Command{
		Name:    "connect",
		Summary: "Scan, pick a network, and connect",
		Description: `Connect to a WiFi network. Without --ssid, scans and opens an
interactive fuzzy picker. Secured networks prompt for the passphrase
without echo unless --password is given. After joining, waits until
the internet is actually reachable, not just the access point.`,
		Usage: "lyra wifi connect [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("connect", pflag.ContinueOnError)
			flagSet.StringVar(&ssid, "ssid", "", "network name (skips the picker)")
			flagSet.StringVar(&password, "password", "", "passphrase (skips the prompt)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Interactive scan and pick",
				Command:     "lyra wifi connect",
			},
			{
				Description: "Non-interactive, for provisioning scripts",
				Command:     "lyra wifi connect --ssid HomeNet --password hunter2",
			},
		},
		Run: func(args []string) error {
			return runWifiConnect(ssid, password)
		},
	}
}

func runWifiConnect(ssid, password string) error {
	logger := cli.NewCommandLogger().With("command", "wifi/connect")
	manager := wifi.NewManager(wifi.Config{Logger: logger})

	ctx, cancel := signalContext()
	defer cancel()

	if err := manager.RadioOn(ctx); err != nil {
		return err
	}

	var picked *wifi.Network
	if ssid == "" {
		fmt.Println("scanning for networks...")
		networks, err := manager.Scan(ctx)
		if err != nil {
			return err
		}
		ssid, err = pickNetwork(networks)
		if err != nil {
			return err
		}
		for i := range networks {
			if networks[i].SSID == ssid {
				picked = &networks[i]
				break
			}
		}
	}

	// Open networks need no passphrase. When the network was named via
	// --ssid we cannot tell, so an empty password means open there too.
	if password == "" && picked != nil && picked.Security != "" {
		var err error
		password, err = promptPassword(fmt.Sprintf("passphrase for %s: ", ssid))
		if err != nil {
			return err
		}
	}

	fmt.Printf("connecting to %s...\n", ssid)
	if err := manager.Connect(ctx, ssid, password); err != nil {
		return err
	}

	fmt.Println("connected; waiting for internet reachability...")
	if err := manager.WaitOnline(ctx, onlineTimeout); err != nil {
		return fmt.Errorf("joined %s but the internet is not reachable: %w", ssid, err)
	}
	fmt.Println("online")
	return nil
}

func wifiStatusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Summary: "Show the active WiFi connection",
		Usage:   "lyra wifi status",
		Run: func(args []string) error {
			return runWifiStatus()
		},
	}
}

func runWifiStatus() error {
	manager := wifi.NewManager(wifi.Config{})

	ctx, cancel := signalContext()
	defer cancel()

	status, err := manager.Status(ctx)
	if err != nil {
		return err
	}
	if !status.Connected {
		fmt.Println("wifi: not connected")
		return &cli.ExitError{Code: 1}
	}

	fmt.Printf("wifi: connected to %s on %s\n", status.Name, status.Device)
	if err := manager.Probe(ctx); err != nil {
		fmt.Println("internet: unreachable")
		return &cli.ExitError{Code: 1}
	}
	fmt.Println("internet: reachable")
	return nil
}

// promptPassword reads a passphrase from the terminal without echo.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(secret), nil
}
