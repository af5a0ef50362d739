// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/ctl"
	"github.com/lyra-voice/lyra/lib/logspool"
)

// shortSocketPath returns a socket path under /tmp. t.TempDir paths
// can exceed the 108-byte sun_path limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lyra-ctl")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "agent.sock")
}

// startControl brings up a control server and returns a client for it.
func startControl(t *testing.T, deps controlDeps) *ctl.Client {
	t.Helper()
	socketPath := shortSocketPath(t)
	server := newControlServer(socketPath, deps, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("control server did not stop")
		}
	})

	waitFor(t, 5*time.Second, "control socket", func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	})
	return ctl.NewClient(socketPath)
}

func controlFixture(t *testing.T) (controlDeps, *Supervisor, *restartRecorder, *logspool.Spool) {
	t.Helper()
	s := NewSupervisor(t.TempDir(), filepath.Join(t.TempDir(), "activity.json"), testSupervisorConfig(), clock.System(), nil, nil, nil, nil)
	recorder := &restartRecorder{}
	recorder.serve(t, s)

	spool := testSpool(t)
	deps := controlDeps{
		startedAt:  time.Now(),
		supervisor: s,
		poller:     &Poller{},
		status:     &statusTracker{},
		spool:      spool,
		shutdown:   func() {},
	}
	return deps, s, recorder, spool
}

func TestControlStatus(t *testing.T) {
	deps, s, _, spool := controlFixture(t)
	setClientRunning(s, time.Now().Add(-time.Minute))
	deps.status.heartbeatFinished(time.Now(), true)
	spool.Append("client", "hello from the client")

	client := startControl(t, deps)
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if status.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", status.PID, os.Getpid())
	}
	if status.ClientState != stateRunning || status.ClientPID != 4242 {
		t.Errorf("client = %s/%d, want running/4242", status.ClientState, status.ClientPID)
	}
	if status.Paired {
		t.Error("Paired = true for a poller with no credentials")
	}
	if !status.LastHeartbeatOK {
		t.Error("LastHeartbeatOK = false")
	}
	if status.SpoolPending != 1 {
		t.Errorf("SpoolPending = %d, want 1", status.SpoolPending)
	}
	if status.Version == "" {
		t.Error("Version is empty")
	}
}

func TestControlRestartClient(t *testing.T) {
	deps, _, recorder, _ := controlFixture(t)
	client := startControl(t, deps)

	if err := client.RestartClient(context.Background()); err != nil {
		t.Fatalf("restart-client: %v", err)
	}
	if got := recorder.count(); got != 1 {
		t.Errorf("restart requests = %d, want 1", got)
	}
}

func TestControlFlushSpool(t *testing.T) {
	deps, _, _, spool := controlFixture(t)
	spool.Append("client", "line one")
	spool.Append("client", "line two")

	client := startControl(t, deps)
	result, err := client.FlushSpool(context.Background())
	if err != nil {
		t.Fatalf("flush-spool: %v", err)
	}
	if result.Lines != 2 {
		t.Errorf("flushed lines = %d, want 2", result.Lines)
	}
	if spool.PendingLines() != 0 {
		t.Errorf("pending after flush = %d, want 0", spool.PendingLines())
	}
}

func TestControlStop(t *testing.T) {
	deps, _, _, _ := controlFixture(t)
	stopped := make(chan struct{})
	deps.shutdown = func() { close(stopped) }

	client := startControl(t, deps)
	if err := client.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("shutdown was not invoked")
	}
}
