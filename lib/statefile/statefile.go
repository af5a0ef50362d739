// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile manages the marker files the Lyra agent shares with
// external tooling: the agent PID file, the client activity timestamp,
// the pairing code, and the reinstall transition marker.
//
// Every write is atomic (write to a temporary file in the same
// directory, fsync, rename, sync the parent directory), so a reader
// never observes a partial or corrupt file even across power loss.
// Freshness checks (ActivityWithin, CheckTransition) prevent acting on
// ancient markers left behind by earlier runs.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PID records the agent process behind a PID file. External tooling
// uses it to find and signal a running agent; the agent refuses to
// start when a live PID file points at another process.
type PID struct {
	// PID is the agent's process ID.
	PID int `json:"pid"`

	// StartedAt is when the agent wrote the file.
	StartedAt time.Time `json:"started_at"`

	// Version is the agent build that wrote the file.
	Version string `json:"version"`
}

// Activity records the most recent voice interaction. The client
// rewrites this file on every interaction; the agent's idle monitor
// restarts the client when the timestamp goes stale.
type Activity struct {
	// LastInteraction is when the client last handled a voice command.
	LastInteraction time.Time `json:"last_interaction"`
}

// Transition records an in-flight reinstall. Written before the client
// binary is replaced; checked on agent startup to detect a reinstall
// that crashed partway and report it instead of silently retrying.
type Transition struct {
	// InterventionID is the backend intervention that requested the
	// reinstall, for the completion report.
	InterventionID string `json:"intervention_id"`

	// PreviousRef is the app repo ref the client ran before.
	PreviousRef string `json:"previous_ref"`

	// NewRef is the app repo ref being installed.
	NewRef string `json:"new_ref"`

	// Timestamp is when the reinstall began.
	Timestamp time.Time `json:"timestamp"`
}

// WritePID atomically writes a PID file, mode 0644 so unprivileged
// status tooling can read it.
func WritePID(path string, entry PID) error {
	return writeJSON(path, entry, 0o644)
}

// ReadPID reads a PID file. A missing file returns an error wrapping
// os.ErrNotExist.
func ReadPID(path string) (PID, error) {
	var entry PID
	if err := readJSON(path, &entry); err != nil {
		return PID{}, err
	}
	return entry, nil
}

// WriteActivity atomically records an interaction timestamp, mode 0644.
func WriteActivity(path string, at time.Time) error {
	return writeJSON(path, Activity{LastInteraction: at}, 0o644)
}

// ReadActivity reads the activity marker. A missing file returns an
// error wrapping os.ErrNotExist.
func ReadActivity(path string) (Activity, error) {
	var activity Activity
	if err := readJSON(path, &activity); err != nil {
		return Activity{}, err
	}
	return activity, nil
}

// ActivityWithin reads the activity marker and reports whether the
// last interaction happened within maxAge of now. A missing file
// reports false with a nil error; other failures (permissions, corrupt
// JSON) are returned so callers can tell "no activity yet" from
// "marker unreadable".
func ActivityWithin(path string, maxAge time.Duration, now time.Time) (Activity, bool, error) {
	activity, err := ReadActivity(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Activity{}, false, nil
		}
		return Activity{}, false, err
	}
	if now.Sub(activity.LastInteraction) > maxAge {
		return activity, false, nil
	}
	return activity, true, nil
}

// WriteTransition atomically writes the reinstall transition marker,
// mode 0600.
func WriteTransition(path string, transition Transition) error {
	return writeJSON(path, transition, 0o600)
}

// CheckTransition reads the transition marker and verifies it is recent
// enough to matter. Returns the transition and true when the file
// exists and its Timestamp is within maxAge of now; a missing or stale
// marker returns false with a nil error.
func CheckTransition(path string, maxAge time.Duration, now time.Time) (Transition, bool, error) {
	var transition Transition
	if err := readJSON(path, &transition); err != nil {
		if os.IsNotExist(err) {
			return Transition{}, false, nil
		}
		return Transition{}, false, err
	}
	if now.Sub(transition.Timestamp) > maxAge {
		return Transition{}, false, nil
	}
	return transition, true, nil
}

// WritePairingCode atomically writes the pairing code as a single
// plain-text line, mode 0644. Display integrations show this file to
// the user during setup, so the format stays trivially parseable.
func WritePairingCode(path, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("pairing code is empty")
	}
	return writeAtomic(path, []byte(code+"\n"), 0o644)
}

// ReadPairingCode reads the pairing code marker. A missing file
// returns an error wrapping os.ErrNotExist.
func ReadPairingCode(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(string(data))
	if code == "" {
		return "", fmt.Errorf("pairing code file %s is empty", path)
	}
	return code, nil
}

// Clear removes a marker file. Idempotent: returns nil when the file
// does not exist.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}

func writeJSON(path string, v any, mode os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state file: %w", err)
	}
	data = append(data, '\n')
	return writeAtomic(path, data, mode)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes data to path via a temporary file in the same
// directory: write, fsync, close, rename, then sync the parent
// directory so the rename survives power loss.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
