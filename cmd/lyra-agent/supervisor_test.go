// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/logspool"
	"github.com/lyra-voice/lyra/lib/process"
	"github.com/lyra-voice/lyra/lib/secret"
)

// writeTestApp creates an app checkout whose client is a shell script.
func writeTestApp(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "client.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `{
		// test client
		"binary": "client.sh",
	}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.jsonc"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testSupervisorConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		RestartDelay:  config.Duration(10 * time.Millisecond),
		RestartBurst:  10,
		RestartRefill: config.Duration(time.Hour),
		IdleSweep:     config.Duration(time.Second),
		StopGrace:     config.Duration(500 * time.Millisecond),
	}
}

func testSpool(t *testing.T) *logspool.Spool {
	t.Helper()
	key, err := secret.NewFromBytes(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatal(err)
	}
	spool, err := logspool.Open(t.TempDir(), key, logspool.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		spool.Close()
		key.Close()
	})
	return spool
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startSupervisor(t *testing.T, s *Supervisor) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("supervisor did not stop")
		}
	})
	return cancelCtx
}

func TestSupervisorRunsAndStopsClient(t *testing.T) {
	appDir := writeTestApp(t, "sleep 30")
	s := NewSupervisor(appDir, filepath.Join(t.TempDir(), "activity.json"), testSupervisorConfig(), clock.System(), nil, nil, nil, nil)

	cancel := startSupervisor(t, s)

	waitFor(t, 5*time.Second, "client running", func() bool {
		return s.Snapshot().State == stateRunning
	})
	pid := s.Snapshot().PID
	if pid == 0 {
		t.Fatal("running client has no PID")
	}

	cancel()
	waitFor(t, 5*time.Second, "supervisor stopped", func() bool {
		return s.Snapshot().State == stateStopped
	})
	waitFor(t, 5*time.Second, "client process gone", func() bool {
		return !process.Alive(pid)
	})
}

func TestSupervisorRestartsOnCrash(t *testing.T) {
	appDir := writeTestApp(t, "exit 3")
	s := NewSupervisor(appDir, filepath.Join(t.TempDir(), "activity.json"), testSupervisorConfig(), clock.System(), nil, nil, nil, nil)

	startSupervisor(t, s)

	waitFor(t, 5*time.Second, "crash restarts", func() bool {
		return s.Snapshot().Restarts >= 2
	})
}

func TestSupervisorRestartRequest(t *testing.T) {
	appDir := writeTestApp(t, "sleep 30")
	s := NewSupervisor(appDir, filepath.Join(t.TempDir(), "activity.json"), testSupervisorConfig(), clock.System(), nil, nil, nil, nil)

	startSupervisor(t, s)

	waitFor(t, 5*time.Second, "client running", func() bool {
		return s.Snapshot().State == stateRunning
	})
	firstPID := s.Snapshot().PID

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Restart(ctx, "test"); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	waitFor(t, 5*time.Second, "replacement client", func() bool {
		snapshot := s.Snapshot()
		return snapshot.State == stateRunning && snapshot.PID != firstPID
	})
	if got := s.Snapshot().Restarts; got < 1 {
		t.Errorf("Restarts = %d, want >= 1", got)
	}
	if process.Alive(firstPID) {
		t.Errorf("old client pid %d still alive after restart", firstPID)
	}
}

func TestSupervisorBackoffOnCrashLoop(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.RestartBurst = 1
	appDir := writeTestApp(t, "exit 1")
	s := NewSupervisor(appDir, filepath.Join(t.TempDir(), "activity.json"), cfg, clock.System(), nil, nil, nil, nil)

	startSupervisor(t, s)

	waitFor(t, 5*time.Second, "backoff hold", func() bool {
		return s.Snapshot().State == stateBackoff
	})
}

func TestSupervisorRestartCutsBackoffShort(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.RestartBurst = 1
	appDir := writeTestApp(t, "exit 1")
	s := NewSupervisor(appDir, filepath.Join(t.TempDir(), "activity.json"), cfg, clock.System(), nil, nil, nil, nil)

	startSupervisor(t, s)

	waitFor(t, 5*time.Second, "backoff hold", func() bool {
		return s.Snapshot().State == stateBackoff
	})

	// A requested restart does not wait out the hold.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Restart(ctx, "operator"); err != nil {
		t.Fatalf("Restart during backoff: %v", err)
	}
}

func TestSupervisorCapturesClientOutput(t *testing.T) {
	spool := testSpool(t)
	appDir := writeTestApp(t, "echo hello-stdout\necho hello-stderr >&2\nsleep 30")
	s := NewSupervisor(appDir, filepath.Join(t.TempDir(), "activity.json"), testSupervisorConfig(), clock.System(), nil, nil, spool, nil)

	startSupervisor(t, s)

	waitFor(t, 5*time.Second, "captured output", func() bool {
		tail := strings.Join(spool.TailText(10), "\n")
		return strings.Contains(tail, "hello-stdout") && strings.Contains(tail, "hello-stderr")
	})
}

func TestSupervisorSurvivesMissingBinary(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"binary": "missing"}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.jsonc"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewSupervisor(dir, filepath.Join(t.TempDir(), "activity.json"), testSupervisorConfig(), clock.System(), nil, nil, nil, nil)

	cancel := startSupervisor(t, s)

	// The supervisor keeps retrying without ever reaching running.
	time.Sleep(100 * time.Millisecond)
	if got := s.Snapshot().State; got == stateRunning {
		t.Fatalf("state = %q with a missing binary", got)
	}
	cancel()
}

func TestClientEnv(t *testing.T) {
	env := clientEnv(map[string]string{"B_VAR": "2", "A_VAR": "1"}, "/tmp/activity.json")

	var manifestVars []string
	activitySeen := false
	for _, entry := range env {
		if entry == "A_VAR=1" || entry == "B_VAR=2" {
			manifestVars = append(manifestVars, entry)
		}
		if entry == activityFileEnv+"=/tmp/activity.json" {
			activitySeen = true
		}
	}
	if len(manifestVars) != 2 || manifestVars[0] != "A_VAR=1" {
		t.Errorf("manifest vars = %v, want sorted [A_VAR=1 B_VAR=2]", manifestVars)
	}
	if !activitySeen {
		t.Error("activity file variable missing from client environment")
	}
}
