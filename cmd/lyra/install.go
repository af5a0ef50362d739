// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/apprepo"
)

// envTemplate seeds the .env file on first install. Keys map onto
// LYRA_* overrides read at every process start.
const envTemplate = `# Lyra device environment. Loaded by lyra and lyra-agent.
LYRA_BACKEND_URL=%s
LYRA_APP_REPO=%s
LYRA_APP_REF=%s
`

// configTemplate seeds agent.yaml with the effective defaults spelled
// out, so operators edit a complete file instead of guessing keys.
const configTemplate = `# Lyra agent configuration.
environment: production

backend:
  base_url: %q

app:
  repo_url: %q
  ref: %q

heartbeat:
  interval: 60s
  log_tail: 100
  include_metrics: true

supervisor:
  restart_delay: 5s
  restart_burst: 6
  restart_refill: 2m
  idle_timeout: 30m
  stop_grace: 10s

maintenance:
  schedule: "17 3 * * *"
  journal_retention: 720h
  spool_max_chunks: 64
`

func installCommand() *cli.Command {
	var configPath, backendURL, repoURL, ref string

	return &cli.Command{
		Name:    "install",
		Summary: "Install the voice client app on this device",
		Description: `Install the voice client: create the directory layout, seed the
config and .env files, clone (or fast-forward) the app repository at
the pinned ref, and record the client binary's hash.

Idempotent: re-running updates nothing that is already correct.`,
		Usage: "lyra install [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			flagSet.StringVar(&backendURL, "backend-url", "", "backend base URL (seeds the .env file)")
			flagSet.StringVar(&repoURL, "repo", "", "app repository URL (overrides config)")
			flagSet.StringVar(&ref, "ref", "", "app repository ref (overrides config)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "First install on a fresh device",
				Command:     "lyra install --backend-url https://api.lyra.example --repo https://github.com/lyra-voice/voice-client",
			},
			{
				Description: "Re-run after editing agent.yaml",
				Command:     "lyra install",
			},
		},
		Run: func(args []string) error {
			return runInstall(configPath, backendURL, repoURL, ref)
		},
	}
}

func runInstall(configPath, backendURL, repoURL, ref string) error {
	logger := cli.NewCommandLogger().With("command", "install")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if repoURL != "" {
		cfg.App.RepoURL = repoURL
	}
	if ref != "" {
		cfg.App.Ref = ref
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.Paths.Etc, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", cfg.Paths.Etc, err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	if err := seedFile(cfg.Paths.EnvFile(), fmt.Sprintf(envTemplate, cfg.Backend.BaseURL, cfg.App.RepoURL, cfg.App.Ref), logger); err != nil {
		return err
	}
	configFile := filepath.Join(cfg.Paths.Etc, "agent.yaml")
	if err := seedFile(configFile, fmt.Sprintf(configTemplate, cfg.Backend.BaseURL, cfg.App.RepoURL, cfg.App.Ref), logger); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := apprepo.Sync(ctx, cfg.Paths.AppDir(), cfg.App.RepoURL, cfg.App.Ref, logger)
	if err != nil {
		return fmt.Errorf("syncing app repository: %w", err)
	}
	switch {
	case result.Cloned:
		fmt.Printf("cloned %s at %s\n", cfg.App.RepoURL, shortCommit(result.Commit))
	case result.Updated:
		fmt.Printf("updated app checkout to %s\n", shortCommit(result.Commit))
	default:
		fmt.Printf("app checkout already at %s\n", shortCommit(result.Commit))
	}

	manifest, err := apprepo.ReadManifest(cfg.Paths.AppDir())
	if err != nil {
		return err
	}
	binaryPath := manifest.BinaryPath(cfg.Paths.AppDir())
	if _, err := os.Stat(binaryPath); err != nil {
		return fmt.Errorf("manifest names binary %q but it is missing: %w", manifest.Binary, err)
	}

	hash, err := apprepo.HashBinary(binaryPath)
	if err != nil {
		return fmt.Errorf("hashing client binary: %w", err)
	}
	record := apprepo.Record{
		Binary:     manifest.Binary,
		Hash:       apprepo.FormatHash(hash),
		Commit:     result.Commit,
		RecordedAt: time.Now(),
	}
	if err := apprepo.WriteRecord(cfg.Paths.BinaryRecordFile(), record); err != nil {
		return fmt.Errorf("recording binary hash: %w", err)
	}

	fmt.Printf("client binary %s recorded (%s)\n", manifest.Binary, record.Hash)
	fmt.Println("install complete; next: lyra wifi connect, lyra pair")
	return nil
}

// seedFile writes content to path unless the file already exists.
// Existing files are the operator's: install never rewrites them.
func seedFile(path, content string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("seeding %s: %w", path, err)
	}
	logger.Info("seeded file", "path", path)
	return nil
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
