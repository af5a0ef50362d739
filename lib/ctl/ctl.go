// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package ctl is the agent control protocol: CBOR request/response
// over a unix socket, one request per connection. The CLI is the only
// client; the agent is the only server. Requests carry an "action"
// field plus action-specific parameters, responses are an {ok, error,
// data} envelope.
package ctl

import "time"

// Action names served by the agent.
const (
	// ActionStatus returns a Status snapshot.
	ActionStatus = "status"

	// ActionRestartClient asks the supervisor to restart the client
	// application now.
	ActionRestartClient = "restart-client"

	// ActionFlushSpool seals pending captured log lines to disk.
	ActionFlushSpool = "flush-spool"

	// ActionStop shuts the agent down cleanly, as if signalled.
	ActionStop = "stop"
)

// Status is the agent state snapshot served by ActionStatus.
type Status struct {
	// Version is the agent build version.
	Version string `cbor:"version"`

	// PID is the agent process ID.
	PID int `cbor:"pid"`

	// StartedAt is when the agent process started.
	StartedAt time.Time `cbor:"started_at"`

	// DeviceID is the backend-assigned device identity. Empty until
	// the device is paired.
	DeviceID string `cbor:"device_id"`

	// Paired reports whether sealed backend credentials exist.
	Paired bool `cbor:"paired"`

	// ClientState is the supervisor state: starting, running,
	// restarting, backoff, stopped.
	ClientState string `cbor:"client_state"`

	// ClientPID is the supervised client's process ID, 0 when the
	// client is not running.
	ClientPID int `cbor:"client_pid"`

	// ClientRestarts counts client starts after the first since the
	// agent came up.
	ClientRestarts int `cbor:"client_restarts"`

	// LastHeartbeat is when the last heartbeat attempt finished, zero
	// before the first attempt.
	LastHeartbeat time.Time `cbor:"last_heartbeat"`

	// LastHeartbeatOK reports whether that attempt succeeded.
	LastHeartbeatOK bool `cbor:"last_heartbeat_ok"`

	// Interventions counts interventions executed since the agent
	// came up.
	Interventions int `cbor:"interventions"`

	// SpoolPending is the number of captured log lines not yet sealed.
	SpoolPending int `cbor:"spool_pending"`
}

// FlushResult reports what ActionFlushSpool sealed.
type FlushResult struct {
	// Lines is how many pending lines went into the sealed chunk.
	// Zero means the spool had nothing to flush.
	Lines int `cbor:"lines"`
}
