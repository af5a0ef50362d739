// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/backend"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/identity"
	"github.com/lyra-voice/lyra/lib/statefile"
)

// pairPollInterval paces the claim-status poll. The backend rate
// limiter in the client also applies.
const pairPollInterval = 3 * time.Second

func pairCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "pair",
		Summary: "Pair this device with the backend",
		Description: `Pair the device: generate identity keys on first use, request a
pairing code, and wait for the user to claim the device in the app.
Credentials arrive sealed to the device key and are stored for the
agent to unseal at startup.

The code is also written to the pairing-code file so on-device display
integrations can show it.`,
		Usage: "lyra pair [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pair", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			return flagSet
		},
		Run: func(args []string) error {
			return runPair(configPath)
		},
	}
}

func runPair(configPath string) error {
	logger := cli.NewCommandLogger().With("command", "pair")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	id, generated, err := identity.LoadOrGenerate(cfg.Paths.IdentityDir())
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}
	defer id.Close()
	if generated {
		logger.Info("generated device identity", "fingerprint", id.Fingerprint())
	}

	if _, err := identity.LoadCredentials(cfg.Paths.IdentityDir(), id.SealKey); err == nil {
		fmt.Println("device is already paired; run 'lyra uninstall --purge-identity' to reset")
		return nil
	}

	api, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout.Std(),
		RetryAttempts:  cfg.Backend.RetryAttempts,
		RetryBackoff:   cfg.Backend.RetryBackoff.Std(),
		RateLimit:      cfg.Backend.RateLimit,
		RateBurst:      cfg.Backend.RateBurst,
		Logger:         logger.With("component", "backend"),
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	response, err := api.StartPairing(ctx, backend.PairRequest{
		Fingerprint:   id.Fingerprint(),
		PublicKey:     base64.StdEncoding.EncodeToString(id.PublicKey),
		SealPublicKey: id.SealPublicKey,
	})
	if err != nil {
		return err
	}

	if err := statefile.WritePairingCode(cfg.Paths.PairingCodeFile(), response.Code); err != nil {
		logger.Warn("writing pairing code file", "error", err)
	}
	defer statefile.Clear(cfg.Paths.PairingCodeFile())

	fmt.Printf("pairing code: %s\n", response.Code)
	fmt.Printf("enter it in the Lyra app before %s\n", response.ExpiresAt.Local().Format(time.Kitchen))

	deviceID, err := waitForClaim(ctx, api, response.Code)
	if err != nil {
		return err
	}

	creds := &identity.Credentials{DeviceID: deviceID, PairedAt: time.Now()}
	if err := identity.SaveCredentials(cfg.Paths.IdentityDir(), creds, id.SealPublicKey); err != nil {
		return fmt.Errorf("storing device credentials: %w", err)
	}

	fmt.Printf("paired as %s\n", deviceID)
	maybeNudgeAgent(cfg)
	return nil
}

// waitForClaim polls pairing status until the device is claimed, the
// code expires, or ctx is cancelled.
func waitForClaim(ctx context.Context, api *backend.Client, code string) (string, error) {
	ticker := time.NewTicker(pairPollInterval)
	defer ticker.Stop()

	for {
		status, err := api.PairingStatus(ctx, code)
		if err != nil {
			return "", err
		}
		switch status.Status {
		case backend.PairClaimed:
			return status.DeviceID, nil
		case backend.PairExpired:
			return "", fmt.Errorf("pairing code expired before the device was claimed")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// maybeNudgeAgent tells a running agent about the new pairing. The
// agent rechecks credentials every heartbeat cycle anyway, so failure
// here costs one interval at most.
func maybeNudgeAgent(cfg *config.Config) {
	entry, err := statefile.ReadPID(cfg.Paths.PIDFile())
	if err != nil || entry.PID == 0 {
		fmt.Println("start the agent to begin heartbeats: systemctl start lyra-agent")
		return
	}
	fmt.Println("the running agent will pick up the pairing on its next heartbeat")
}
