// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"sync"
	"time"
)

// statusTracker holds the poller-side counters served over the control
// socket. The supervisor keeps its own state; the control handler
// merges both into one ctl.Status.
type statusTracker struct {
	mu              sync.Mutex
	lastHeartbeat   time.Time
	lastHeartbeatOK bool
	interventions   int
}

func (t *statusTracker) heartbeatFinished(at time.Time, ok bool) {
	t.mu.Lock()
	t.lastHeartbeat = at
	t.lastHeartbeatOK = ok
	t.mu.Unlock()
}

func (t *statusTracker) interventionExecuted() {
	t.mu.Lock()
	t.interventions++
	t.mu.Unlock()
}

func (t *statusTracker) snapshot() (lastHeartbeat time.Time, ok bool, interventions int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHeartbeat, t.lastHeartbeatOK, t.interventions
}
