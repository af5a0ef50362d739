// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysconf manages the production tuning drop-ins: sysctl,
// journald, and logind fragments under /etc. Every managed file starts
// with an ownership header, so apply can tell its own files from
// foreign ones and revert removes exactly what apply wrote. Writes are
// content-diffed: a converged system is never touched, which keeps
// re-runs free of journald restarts and SD-card writes.
package sysconf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// managedHeader marks a file as owned by lyra tune. Revert only
// removes files carrying it.
const managedHeader = "# Managed by lyra tune. Do not edit; rewritten on every run.\n"

// Fragment is one managed drop-in file.
type Fragment struct {
	// Path is the absolute destination.
	Path string

	// Body is the fragment content without the ownership header.
	Body string
}

// Fragments returns the production tuning set rooted at root (pass "/"
// for the live system; tests pass a scratch directory).
//
// The values target a small always-on voice device writing to an SD
// card: keep dirty pages small so power pulls lose little, stop the
// journal from eating the card, and keep logind from treating the
// appliance like a laptop.
func Fragments(root string) []Fragment {
	return []Fragment{
		{
			Path: filepath.Join(root, "etc/sysctl.d/99-lyra.conf"),
			Body: `vm.swappiness = 10
vm.dirty_background_ratio = 5
vm.dirty_ratio = 10
vm.min_free_kbytes = 16384
`,
		},
		{
			Path: filepath.Join(root, "etc/systemd/journald.conf.d/99-lyra.conf"),
			Body: `[Journal]
Storage=persistent
SystemMaxUse=64M
RuntimeMaxUse=32M
MaxRetentionSec=604800
`,
		},
		{
			Path: filepath.Join(root, "etc/systemd/logind.conf.d/99-lyra.conf"),
			Body: `[Login]
HandlePowerKey=ignore
HandleSuspendKey=ignore
IdleAction=ignore
`,
		},
	}
}

// Report lists what Apply or Revert did, path by path.
type Report struct {
	// Written are fragments created or rewritten.
	Written []string

	// Unchanged are fragments already holding the desired content.
	Unchanged []string

	// Removed are fragments deleted by Revert.
	Removed []string

	// Skipped are paths Revert left alone: missing, or present
	// without the ownership header.
	Skipped []string
}

// Changed reports whether the run modified the system.
func (r *Report) Changed() bool {
	return len(r.Written) > 0 || len(r.Removed) > 0
}

// Apply writes every fragment that differs from its desired content
// and leaves converged ones untouched. Parent directories are created
// as needed. A foreign file at a managed path is overwritten: the
// paths are namespaced to lyra, so whatever sits there is stale.
func Apply(fragments []Fragment, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	report := &Report{}
	for _, fragment := range fragments {
		desired := []byte(managedHeader + fragment.Body)

		existing, err := os.ReadFile(fragment.Path)
		if err == nil && bytes.Equal(existing, desired) {
			report.Unchanged = append(report.Unchanged, fragment.Path)
			continue
		}
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", fragment.Path, err)
		}
		if err == nil && !bytes.HasPrefix(existing, []byte(managedHeader)) {
			logger.Warn("replacing foreign file at managed path", "path", fragment.Path)
		}

		if err := os.MkdirAll(filepath.Dir(fragment.Path), 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(fragment.Path), err)
		}
		if err := writeAtomic(fragment.Path, desired); err != nil {
			return nil, err
		}
		logger.Info("tuning fragment written", "path", fragment.Path)
		report.Written = append(report.Written, fragment.Path)
	}
	return report, nil
}

// Revert removes every fragment file that carries the ownership
// header. Missing files and files without the header are skipped, so
// revert never deletes configuration someone else wrote.
func Revert(fragments []Fragment, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	report := &Report{}
	for _, fragment := range fragments {
		existing, err := os.ReadFile(fragment.Path)
		if os.IsNotExist(err) {
			report.Skipped = append(report.Skipped, fragment.Path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", fragment.Path, err)
		}
		if !bytes.HasPrefix(existing, []byte(managedHeader)) {
			logger.Warn("leaving unmanaged file in place", "path", fragment.Path)
			report.Skipped = append(report.Skipped, fragment.Path)
			continue
		}
		if err := os.Remove(fragment.Path); err != nil {
			return nil, fmt.Errorf("removing %s: %w", fragment.Path, err)
		}
		logger.Info("tuning fragment removed", "path", fragment.Path)
		report.Removed = append(report.Removed, fragment.Path)
	}
	return report, nil
}

// Applied reports whether every fragment is present with exactly the
// desired content. Used by verify.
func Applied(fragments []Fragment) (bool, error) {
	for _, fragment := range fragments {
		existing, err := os.ReadFile(fragment.Path)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", fragment.Path, err)
		}
		if !bytes.Equal(existing, []byte(managedHeader+fragment.Body)) {
			return false, nil
		}
	}
	return true, nil
}

// Reload pushes the written fragments into the running system: sysctl
// re-reads its drop-ins and journald restarts to pick up the new
// limits. Failures are logged and swallowed — the fragments are on
// disk and apply at next boot regardless, and tune must not fail a
// converged install over a transient systemctl hiccup.
func Reload(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reloads := [][]string{
		{"sysctl", "--system"},
		{"systemctl", "try-restart", "systemd-journald"},
	}
	for _, argv := range reloads {
		command := exec.CommandContext(ctx, argv[0], argv[1:]...)
		if output, err := command.CombinedOutput(); err != nil {
			logger.Warn("tuning reload failed",
				"command", strings.Join(argv, " "),
				"error", err,
				"output", strings.TrimSpace(string(output)),
			)
		}
	}
}

// writeAtomic writes via a temp file and rename so a power pull leaves
// either the old fragment or the new one, never a truncated mix.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing %s: %w", path, err)
	}
	return nil
}
