// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lyra-voice/lyra/lib/apprepo"
	"github.com/lyra-voice/lyra/lib/backend"
	"github.com/lyra-voice/lyra/lib/journal"
	"github.com/lyra-voice/lyra/lib/statefile"
)

// restartTimeout bounds one restart intervention: stopping a client
// takes at most the stop grace plus process teardown.
const restartTimeout = 2 * time.Minute

// execute runs one intervention and returns the report for the
// backend. Intervention execution deliberately blocks the poll loop: a
// long reinstall delays subsequent heartbeats rather than overlapping
// them, matching one-at-a-time FIFO semantics.
func (p *Poller) execute(ctx context.Context, intervention backend.Intervention) backend.InterventionReport {
	p.logger.Info("executing intervention", "intervention_id", intervention.ID, "kind", intervention.Kind)

	switch intervention.Kind {
	case backend.InterventionRestart:
		return p.executeRestart(ctx, intervention)
	case backend.InterventionReinstall:
		return p.executeReinstall(ctx, intervention)
	default:
		// Unknown kinds are reported, never executed: an agent behind
		// on updates must not guess at new intervention semantics.
		return backend.InterventionReport{
			Status: backend.ReportFailed,
			Detail: fmt.Sprintf("unsupported intervention kind %q", intervention.Kind),
		}
	}
}

// executeRestart cycles the client: through systemctl when the agent
// manages a configured unit, through the in-process supervisor
// otherwise.
func (p *Poller) executeRestart(ctx context.Context, intervention backend.Intervention) backend.InterventionReport {
	restartCtx, cancel := context.WithTimeout(ctx, restartTimeout)
	defer cancel()

	var err error
	if p.app.Unit != "" {
		err = p.systemctl(restartCtx, "restart", p.app.Unit)
	} else {
		err = p.supervisor.Restart(restartCtx, "backend intervention "+intervention.ID)
	}
	if err != nil {
		return backend.InterventionReport{Status: backend.ReportFailed, Detail: err.Error()}
	}
	return backend.InterventionReport{Status: backend.ReportOK, Detail: "client restarted"}
}

// executeReinstall re-syncs the app checkout to the pinned ref,
// re-records the binary hash, and restarts the client. A transition
// marker brackets the window where the checkout is being replaced so
// an interruption is detectable on the next agent start.
func (p *Poller) executeReinstall(ctx context.Context, intervention backend.Intervention) backend.InterventionReport {
	previous, _ := apprepo.ReadRecord(p.paths.BinaryRecordFile())
	transition := statefile.Transition{
		InterventionID: intervention.ID,
		PreviousRef:    previous.Commit,
		NewRef:         p.app.Ref,
		Timestamp:      p.clk.Now(),
	}
	if err := statefile.WriteTransition(p.paths.TransitionFile(), transition); err != nil {
		return backend.InterventionReport{Status: backend.ReportFailed, Detail: "writing transition marker: " + err.Error()}
	}

	report := p.reinstall(ctx, intervention)

	if err := statefile.Clear(p.paths.TransitionFile()); err != nil {
		p.logger.Error("clearing transition marker", "error", err)
	}
	return report
}

func (p *Poller) reinstall(ctx context.Context, intervention backend.Intervention) backend.InterventionReport {
	result, err := apprepo.Sync(ctx, p.paths.AppDir(), p.app.RepoURL, p.app.Ref, p.logger)
	if err != nil {
		p.journalEvent(journal.KindUpdate, journal.OutcomeFailed, "app sync failed: "+err.Error(), nil)
		return backend.InterventionReport{Status: backend.ReportFailed, Detail: "syncing app repository: " + err.Error()}
	}

	manifest, err := apprepo.ReadManifest(p.paths.AppDir())
	if err != nil {
		return backend.InterventionReport{Status: backend.ReportFailed, Detail: err.Error()}
	}

	hash, err := apprepo.HashBinary(manifest.BinaryPath(p.paths.AppDir()))
	if err != nil {
		return backend.InterventionReport{Status: backend.ReportFailed, Detail: "hashing client binary: " + err.Error()}
	}

	record := apprepo.Record{
		Binary:     manifest.Binary,
		Hash:       apprepo.FormatHash(hash),
		Commit:     result.Commit,
		RecordedAt: p.clk.Now(),
	}
	if err := apprepo.WriteRecord(p.paths.BinaryRecordFile(), record); err != nil {
		return backend.InterventionReport{Status: backend.ReportFailed, Detail: "recording binary hash: " + err.Error()}
	}

	p.journalEvent(journal.KindUpdate, journal.OutcomeOK, "app reinstalled at "+shortCommit(result.Commit), map[string]string{
		"commit": result.Commit,
		"ref":    p.app.Ref,
	})

	restart := p.executeRestart(ctx, intervention)
	if restart.Status != backend.ReportOK {
		return backend.InterventionReport{
			Status: backend.ReportFailed,
			Detail: "reinstalled at " + shortCommit(result.Commit) + " but restart failed: " + restart.Detail,
		}
	}

	return backend.InterventionReport{
		Status: backend.ReportOK,
		Detail: "reinstalled at " + shortCommit(result.Commit),
	}
}

// runSystemctl is the production systemctl runner.
func runSystemctl(ctx context.Context, args ...string) error {
	command := exec.CommandContext(ctx, "systemctl", args...)
	output, err := command.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, trimmed)
		}
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
