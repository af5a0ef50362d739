// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/statefile"
)

// idleMonitor restarts the client when no voice interaction has been
// recorded for the idle window. The client rewrites the activity file
// on every interaction; a periodic sweep is the backstop for file
// events the watcher misses (the file lives on flash, and rename-based
// atomic writes can race a directory watch).
type idleMonitor struct {
	activityPath string
	sweep        time.Duration
	supervisor   *Supervisor
	clk          clock.Clock
	logger       *slog.Logger
}

func newIdleMonitor(activityPath string, sweep time.Duration, supervisor *Supervisor, clk clock.Clock, logger *slog.Logger) *idleMonitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &idleMonitor{
		activityPath: activityPath,
		sweep:        sweep,
		supervisor:   supervisor,
		clk:          clk,
		logger:       logger,
	}
}

// Run watches until ctx is cancelled. The watch is on the activity
// file's directory: the file is written atomically (temp + rename), so
// watching the file itself would break on the first rewrite.
func (m *idleMonitor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(m.activityPath)); err != nil {
		return err
	}

	ticker := m.clk.NewTicker(m.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != m.activityPath {
				continue
			}
			m.check(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Error("activity watcher error", "error", err)
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check restarts the client when the idle window has elapsed with no
// activity. The baseline is whichever is newer: the last recorded
// interaction or the client's last start. Because a restart moves the
// start time forward, a stale activity file triggers at most one
// restart per stale period.
func (m *idleMonitor) check(ctx context.Context) {
	limit := m.supervisor.IdleLimit()
	if limit <= 0 {
		return
	}

	snapshot := m.supervisor.Snapshot()
	if snapshot.State != stateRunning {
		return
	}

	now := m.clk.Now()
	baseline := snapshot.LastStart

	activity, fresh, err := statefile.ActivityWithin(m.activityPath, limit, now)
	if err != nil {
		m.logger.Error("reading activity file", "error", err)
		return
	}
	if fresh {
		return
	}
	if activity.LastInteraction.After(baseline) {
		baseline = activity.LastInteraction
	}

	idle := now.Sub(baseline)
	if idle < limit {
		return
	}

	m.logger.Info("client idle, restarting", "idle", idle.Round(time.Second).String(), "limit", limit.String())
	restartCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := m.supervisor.Restart(restartCtx, "idle for "+idle.Round(time.Second).String()); err != nil {
		m.logger.Error("idle restart failed", "error", err)
	}
}
