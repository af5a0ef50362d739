// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/journal"
)

func TestRunMaintenancePrunesAndJournals(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 3, 1, 3, 17, 0, 0, time.UTC))
	jrnl, err := journal.Open(journal.Config{
		Path:  filepath.Join(t.TempDir(), "journal.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer jrnl.Close()

	ctx := context.Background()
	old := journal.Event{
		Time:    fake.Now().Add(-60 * 24 * time.Hour),
		Kind:    journal.KindHeartbeat,
		Outcome: journal.OutcomeOK,
	}
	recent := journal.Event{
		Time:    fake.Now().Add(-time.Hour),
		Kind:    journal.KindHeartbeat,
		Outcome: journal.OutcomeOK,
	}
	for _, event := range []journal.Event{old, recent} {
		if err := jrnl.Record(ctx, event); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.MaintenanceConfig{
		Schedule:         "17 3 * * *",
		JournalRetention: config.Duration(30 * 24 * time.Hour),
		SpoolMaxChunks:   4,
	}
	spool := testSpool(t)
	runMaintenance(ctx, cfg, jrnl, spool, slog.New(slog.DiscardHandler))

	events, err := jrnl.Recent(ctx, journal.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	var heartbeats, maintenance int
	for _, event := range events {
		switch event.Kind {
		case journal.KindHeartbeat:
			heartbeats++
		case journal.KindMaintenance:
			maintenance++
			if event.Outcome != journal.OutcomeOK {
				t.Errorf("maintenance outcome = %q, want ok", event.Outcome)
			}
			if event.Attributes["journal_rows_pruned"] != "1" {
				t.Errorf("journal_rows_pruned = %q, want 1", event.Attributes["journal_rows_pruned"])
			}
		}
	}
	if heartbeats != 1 {
		t.Errorf("heartbeat rows after prune = %d, want 1 (old row pruned)", heartbeats)
	}
	if maintenance != 1 {
		t.Errorf("maintenance rows = %d, want 1", maintenance)
	}
}

func TestStartMaintenanceRejectsBadSchedule(t *testing.T) {
	jrnl, err := journal.Open(journal.Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer jrnl.Close()

	cfg := config.MaintenanceConfig{Schedule: "not a cron line"}
	if _, err := startMaintenance(cfg, jrnl, testSpool(t), slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("startMaintenance accepted a malformed schedule")
	}
}

func TestStartMaintenanceSchedules(t *testing.T) {
	jrnl, err := journal.Open(journal.Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer jrnl.Close()

	cfg := config.MaintenanceConfig{
		Schedule:         "17 3 * * *",
		JournalRetention: config.Duration(720 * time.Hour),
		SpoolMaxChunks:   64,
	}
	scheduler, err := startMaintenance(cfg, jrnl, testSpool(t), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	defer scheduler.Shutdown()

	if jobs := scheduler.Jobs(); len(jobs) != 1 {
		t.Fatalf("scheduled jobs = %d, want 1", len(jobs))
	}
}
