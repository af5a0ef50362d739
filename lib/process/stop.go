// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint and process-control helpers shared
// by the Lyra binaries: the fatal error handler, liveness probes for PIDs
// read from marker files, and graceful stop with SIGTERM → SIGKILL
// escalation.
package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/lyra-voice/lyra/lib/clock"
)

// pollInterval is how often Stop re-checks the target while waiting for
// it to exit. The targets here are not children of the caller, so exit
// cannot be waited on directly; liveness is probed with signal 0.
const pollInterval = 200 * time.Millisecond

// Alive reports whether a process with the given PID exists and is
// signalable by the caller. A PID that exists but belongs to another
// user reports true: it is alive, we just cannot manage it.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return signalable(pid)
}

// signalable probes a kill target (positive PID or negative process
// group) with signal 0.
func signalable(target int) bool {
	err := unix.Kill(target, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}

// Stop terminates the process with the given PID: SIGTERM first, then
// SIGKILL once grace has elapsed without the process exiting. It is
// used against PIDs recovered from marker files, where the target is
// not a child of the caller.
//
// Returns nil when the process is gone (including when it was already
// gone on entry). The context cancels the wait early; the process may
// still be running in that case.
func Stop(ctx context.Context, clk clock.Clock, pid int, grace time.Duration) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return stopTarget(ctx, clk, pid, grace)
}

// StopGroup is Stop applied to a process group: signals go to -pgid so
// that a supervised client and any helpers it forked terminate
// together.
func StopGroup(ctx context.Context, clk clock.Clock, pgid int, grace time.Duration) error {
	if pgid <= 0 {
		return fmt.Errorf("invalid process group %d", pgid)
	}
	return stopTarget(ctx, clk, -pgid, grace)
}

func stopTarget(ctx context.Context, clk clock.Clock, target int, grace time.Duration) error {
	if !signalable(target) {
		return nil
	}

	if err := unix.Kill(target, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("sending SIGTERM to %d: %w", target, err)
	}

	deadline := clk.After(grace)
	for {
		if !signalable(target) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			if err := unix.Kill(target, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return fmt.Errorf("sending SIGKILL to %d: %w", target, err)
			}
			// SIGKILL cannot be caught; give the kernel a moment to
			// reap before the final check.
			clk.Sleep(pollInterval)
			if signalable(target) {
				return fmt.Errorf("target %d survived SIGKILL", target)
			}
			return nil
		case <-clk.After(pollInterval):
		}
	}
}
