// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package sysconf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFragmentsCoverAllThreeSubsystems(t *testing.T) {
	fragments := Fragments("/")
	if len(fragments) != 3 {
		t.Fatalf("got %d fragments, want 3", len(fragments))
	}
	wantPaths := map[string]string{
		"/etc/sysctl.d/99-lyra.conf":            "vm.swappiness",
		"/etc/systemd/journald.conf.d/99-lyra.conf": "[Journal]",
		"/etc/systemd/logind.conf.d/99-lyra.conf":   "[Login]",
	}
	for _, fragment := range fragments {
		marker, known := wantPaths[fragment.Path]
		if !known {
			t.Errorf("unexpected fragment path %s", fragment.Path)
			continue
		}
		if !strings.Contains(fragment.Body, marker) {
			t.Errorf("fragment %s missing %q", fragment.Path, marker)
		}
		if !strings.HasSuffix(fragment.Body, "\n") {
			t.Errorf("fragment %s body lacks trailing newline", fragment.Path)
		}
	}
}

func TestApplyWritesAndConverges(t *testing.T) {
	root := t.TempDir()
	fragments := Fragments(root)

	report, err := Apply(fragments, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(report.Written) != 3 || len(report.Unchanged) != 0 {
		t.Errorf("first run: written=%d unchanged=%d, want 3/0",
			len(report.Written), len(report.Unchanged))
	}
	if !report.Changed() {
		t.Error("Changed() = false after writing fragments")
	}

	for _, fragment := range fragments {
		content, err := os.ReadFile(fragment.Path)
		if err != nil {
			t.Fatalf("reading %s: %v", fragment.Path, err)
		}
		if !strings.HasPrefix(string(content), managedHeader) {
			t.Errorf("%s missing ownership header", fragment.Path)
		}
		if !strings.HasSuffix(string(content), fragment.Body) {
			t.Errorf("%s content does not end with fragment body", fragment.Path)
		}
	}

	report, err = Apply(fragments, nil)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if len(report.Written) != 0 || len(report.Unchanged) != 3 {
		t.Errorf("converged run: written=%d unchanged=%d, want 0/3",
			len(report.Written), len(report.Unchanged))
	}
	if report.Changed() {
		t.Error("Changed() = true on a converged run")
	}

	for _, fragment := range fragments {
		leftovers, err := filepath.Glob(fragment.Path + "*.tmp")
		if err != nil {
			t.Fatalf("glob: %v", err)
		}
		if len(leftovers) != 0 {
			t.Errorf("temp files left behind: %v", leftovers)
		}
	}
}

func TestApplyRewritesDrift(t *testing.T) {
	root := t.TempDir()
	fragments := Fragments(root)
	if _, err := Apply(fragments, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Simulate a manual edit that kept the header.
	drifted := fragments[0].Path
	if err := os.WriteFile(drifted, []byte(managedHeader+"vm.swappiness = 60\n"), 0644); err != nil {
		t.Fatalf("drifting fragment: %v", err)
	}

	report, err := Apply(fragments, nil)
	if err != nil {
		t.Fatalf("Apply after drift: %v", err)
	}
	if len(report.Written) != 1 || report.Written[0] != drifted {
		t.Errorf("Written = %v, want just the drifted fragment", report.Written)
	}
	content, err := os.ReadFile(drifted)
	if err != nil {
		t.Fatalf("reading rewritten fragment: %v", err)
	}
	if strings.Contains(string(content), "swappiness = 60") {
		t.Error("drifted content survived Apply")
	}
}

func TestApplyOverwritesForeignFile(t *testing.T) {
	root := t.TempDir()
	fragments := Fragments(root)[:1]
	if err := os.MkdirAll(filepath.Dir(fragments[0].Path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(fragments[0].Path, []byte("# someone else\nvm.swappiness = 100\n"), 0644); err != nil {
		t.Fatalf("planting foreign file: %v", err)
	}

	report, err := Apply(fragments, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(report.Written) != 1 {
		t.Errorf("Written = %v, want the reclaimed path", report.Written)
	}
	content, _ := os.ReadFile(fragments[0].Path)
	if !strings.HasPrefix(string(content), managedHeader) {
		t.Error("reclaimed file missing ownership header")
	}
}

func TestRevertRemovesOnlyOwnedFiles(t *testing.T) {
	root := t.TempDir()
	fragments := Fragments(root)
	if _, err := Apply(fragments, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Replace one fragment with an unmanaged file.
	foreign := fragments[2].Path
	if err := os.WriteFile(foreign, []byte("# hand-written\nIdleAction=poweroff\n"), 0644); err != nil {
		t.Fatalf("planting foreign file: %v", err)
	}

	report, err := Revert(fragments, nil)
	if err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if len(report.Removed) != 2 {
		t.Errorf("Removed = %v, want the two owned fragments", report.Removed)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != foreign {
		t.Errorf("Skipped = %v, want the foreign file", report.Skipped)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Errorf("foreign file was removed: %v", err)
	}
	for _, fragment := range fragments[:2] {
		if _, err := os.Stat(fragment.Path); !os.IsNotExist(err) {
			t.Errorf("owned fragment %s still present", fragment.Path)
		}
	}
}

func TestRevertMissingFilesSkipped(t *testing.T) {
	fragments := Fragments(t.TempDir())
	report, err := Revert(fragments, nil)
	if err != nil {
		t.Fatalf("Revert on clean system: %v", err)
	}
	if len(report.Removed) != 0 || len(report.Skipped) != 3 {
		t.Errorf("clean revert: removed=%d skipped=%d, want 0/3",
			len(report.Removed), len(report.Skipped))
	}
	if report.Changed() {
		t.Error("Changed() = true for a no-op revert")
	}
}

func TestApplied(t *testing.T) {
	root := t.TempDir()
	fragments := Fragments(root)

	applied, err := Applied(fragments)
	if err != nil {
		t.Fatalf("Applied on clean system: %v", err)
	}
	if applied {
		t.Error("Applied = true before Apply")
	}

	if _, err := Apply(fragments, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	applied, err = Applied(fragments)
	if err != nil {
		t.Fatalf("Applied: %v", err)
	}
	if !applied {
		t.Error("Applied = false after Apply")
	}

	if err := os.WriteFile(fragments[1].Path, []byte(managedHeader+"[Journal]\n"), 0644); err != nil {
		t.Fatalf("drifting fragment: %v", err)
	}
	applied, err = Applied(fragments)
	if err != nil {
		t.Fatalf("Applied after drift: %v", err)
	}
	if applied {
		t.Error("Applied = true with drifted content")
	}
}
