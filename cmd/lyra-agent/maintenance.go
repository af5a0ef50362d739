// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/journal"
	"github.com/lyra-voice/lyra/lib/logspool"
)

// maintenanceTimeout bounds one housekeeping run. Pruning and chunk
// rotation are small deletes; a minute means something is wrong.
const maintenanceTimeout = time.Minute

// startMaintenance schedules the housekeeping job (journal retention
// pruning and spool chunk rotation) on the configured cron expression.
// The caller shuts the returned scheduler down at exit.
func startMaintenance(cfg config.MaintenanceConfig, jrnl *journal.Journal, spool *logspool.Spool, logger *slog.Logger) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.CronJob(cfg.Schedule, false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
			defer cancel()
			runMaintenance(ctx, cfg, jrnl, spool, logger)
		}),
		gocron.WithName("housekeeping"),
	)
	if err != nil {
		scheduler.Shutdown()
		return nil, fmt.Errorf("scheduling housekeeping %q: %w", cfg.Schedule, err)
	}

	scheduler.Start()
	logger.Info("housekeeping scheduled", "schedule", cfg.Schedule)
	return scheduler, nil
}

// runMaintenance prunes the journal and rotates spool chunks, then
// journals the run itself.
func runMaintenance(ctx context.Context, cfg config.MaintenanceConfig, jrnl *journal.Journal, spool *logspool.Spool, logger *slog.Logger) {
	pruned, pruneErr := jrnl.Prune(ctx, cfg.JournalRetention.Std())
	if pruneErr != nil {
		logger.Error("journal prune failed", "error", pruneErr)
	}

	rotated, rotateErr := spool.Rotate(cfg.SpoolMaxChunks)
	if rotateErr != nil {
		logger.Error("spool rotation failed", "error", rotateErr)
	}

	outcome := journal.OutcomeOK
	detail := fmt.Sprintf("pruned %d journal rows, rotated %d spool chunks", pruned, rotated)
	if pruneErr != nil || rotateErr != nil {
		outcome = journal.OutcomeFailed
		detail = "housekeeping had errors; see agent log"
	}

	event := journal.Event{
		Kind:    journal.KindMaintenance,
		Outcome: outcome,
		Detail:  detail,
		Attributes: map[string]string{
			"journal_rows_pruned":  strconv.Itoa(pruned),
			"spool_chunks_rotated": strconv.Itoa(rotated),
		},
	}
	if err := jrnl.Record(ctx, event); err != nil {
		logger.Error("journaling maintenance run", "error", err)
	}

	logger.Info("housekeeping finished", "journal_rows_pruned", pruned, "spool_chunks_rotated", rotated)
}
