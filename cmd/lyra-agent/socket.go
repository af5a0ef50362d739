// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lyra-voice/lyra/lib/ctl"
	"github.com/lyra-voice/lyra/lib/logspool"
	"github.com/lyra-voice/lyra/lib/version"
)

// controlDeps is everything the control socket actions touch.
type controlDeps struct {
	startedAt  time.Time
	supervisor *Supervisor
	poller     *Poller
	status     *statusTracker
	spool      *logspool.Spool

	// shutdown cancels the agent context, as if the process had been
	// signalled. The response is written before the server drains.
	shutdown context.CancelFunc
}

// newControlServer builds the ctl server with the four agent actions.
func newControlServer(socketPath string, deps controlDeps, logger *slog.Logger) *ctl.Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := ctl.NewServer(socketPath, logger)

	server.Handle(ctl.ActionStatus, func(ctx context.Context, raw []byte) (any, error) {
		return deps.buildStatus(), nil
	})

	server.Handle(ctl.ActionRestartClient, func(ctx context.Context, raw []byte) (any, error) {
		if err := deps.supervisor.Restart(ctx, "control socket request"); err != nil {
			return nil, err
		}
		return nil, nil
	})

	server.Handle(ctl.ActionFlushSpool, func(ctx context.Context, raw []byte) (any, error) {
		pending := deps.spool.PendingLines()
		if err := deps.spool.Flush(); err != nil {
			return nil, err
		}
		return ctl.FlushResult{Lines: pending}, nil
	})

	server.Handle(ctl.ActionStop, func(ctx context.Context, raw []byte) (any, error) {
		logger.Info("stop requested over control socket")
		deps.shutdown()
		return nil, nil
	})

	return server
}

func (d controlDeps) buildStatus() ctl.Status {
	snapshot := d.supervisor.Snapshot()
	lastHeartbeat, heartbeatOK, interventions := d.status.snapshot()
	deviceID := d.poller.DeviceID()

	return ctl.Status{
		Version:         version.Short(),
		PID:             os.Getpid(),
		StartedAt:       d.startedAt,
		DeviceID:        deviceID,
		Paired:          deviceID != "",
		ClientState:     snapshot.State,
		ClientPID:       snapshot.PID,
		ClientRestarts:  snapshot.Restarts,
		LastHeartbeat:   lastHeartbeat,
		LastHeartbeatOK: heartbeatOK,
		Interventions:   interventions,
		SpoolPending:    d.spool.PendingLines(),
	}
}
