// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lyra-voice/lyra/lib/apprepo"
	"github.com/lyra-voice/lyra/lib/backend"
	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/deviceauth"
	"github.com/lyra-voice/lyra/lib/hostinfo"
	"github.com/lyra-voice/lyra/lib/identity"
	"github.com/lyra-voice/lyra/lib/journal"
	"github.com/lyra-voice/lyra/lib/logspool"
	"github.com/lyra-voice/lyra/lib/statefile"
	"github.com/lyra-voice/lyra/lib/version"
)

// transitionMaxAge bounds how old a reinstall transition marker can be
// and still be reported as an interrupted reinstall. Anything older is
// debris from a run that never cleaned up, not an actionable failure.
const transitionMaxAge = 24 * time.Hour

// Poller runs the heartbeat / intervention loop: keep a usable bearer
// token, POST a heartbeat each interval, execute whatever interventions
// the response carries (in response order, one at a time), and report
// each one's outcome back.
//
// An unpaired device polls but does nothing: each cycle rechecks for
// the sealed credential bundle, so completing `lyra pair` brings the
// loop up without an agent restart.
type Poller struct {
	cfg        config.HeartbeatConfig
	app        config.AppConfig
	paths      config.PathsConfig
	backend    *backend.Client
	id         *identity.Identity
	supervisor *Supervisor
	collector  *hostinfo.Collector
	spool      *logspool.Spool
	journal    *journal.Journal
	status     *statusTracker
	metrics    *agentMetrics
	clk        clock.Clock
	logger     *slog.Logger

	// sessionID is minted once per agent process so the backend can
	// tell a restart from a connectivity gap.
	sessionID string

	// systemctl runs "systemctl <args>" when interventions manage a
	// configured unit. Swapped in tests.
	systemctl func(ctx context.Context, args ...string) error

	tokens deviceauth.Store

	mu             sync.Mutex
	creds          *identity.Credentials
	unpairedLogged bool
	transitionDone bool
}

// DeviceID returns the paired device identity, empty before pairing.
func (p *Poller) DeviceID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.creds == nil {
		return ""
	}
	return p.creds.DeviceID
}

// Run polls until ctx is cancelled. The first cycle happens
// immediately; a failed cycle is logged and journaled, never fatal —
// heartbeats are periodic state snapshots and the next one supersedes
// the lost one.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clk.NewTicker(p.cfg.Interval.Std())
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("heartbeat cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// cycle is one heartbeat: ensure credentials and a token, POST, then
// execute and report interventions.
func (p *Poller) cycle(ctx context.Context) error {
	creds := p.credentials()
	if creds == nil {
		return nil
	}

	token, err := p.ensureToken(ctx, creds)
	if err != nil {
		p.recordHeartbeat(false, "authentication failed: "+err.Error())
		return err
	}

	p.reportInterruptedReinstall(ctx, token.Value)

	response, err := p.backend.Heartbeat(ctx, token.Value, p.buildHeartbeat(creds))
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			// Token rejected server-side before its local expiry.
			// Clear it; the next cycle re-authenticates.
			p.tokens.Clear()
		}
		p.recordHeartbeat(false, err.Error())
		return err
	}
	p.recordHeartbeat(true, "")

	for _, intervention := range response.Interventions {
		report := p.execute(ctx, intervention)
		p.status.interventionExecuted()
		p.metrics.interventionExecuted(intervention.Kind, report.Status)
		p.journalEvent(journal.KindIntervention, report.Status, report.Detail, map[string]string{
			"intervention_id": intervention.ID,
			"kind":            intervention.Kind,
		})
		if err := p.backend.ReportIntervention(ctx, token.Value, intervention.ID, report); err != nil {
			p.logger.Error("reporting intervention", "intervention_id", intervention.ID, "error", err)
		}
	}
	return nil
}

// credentials returns the unsealed pairing credentials, loading them
// on first use. Unpaired devices log once and poll quietly after.
func (p *Poller) credentials() *identity.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.creds != nil {
		return p.creds
	}

	creds, err := identity.LoadCredentials(p.paths.IdentityDir(), p.id.SealKey)
	switch {
	case errors.Is(err, identity.ErrNotPaired):
		if !p.unpairedLogged {
			p.logger.Info("device not paired, heartbeats idle until `lyra pair` completes")
			p.unpairedLogged = true
		}
		return nil
	case err != nil:
		p.logger.Error("loading device credentials", "error", err)
		return nil
	}

	p.logger.Info("device credentials loaded", "device_id", creds.DeviceID)
	p.creds = creds
	return creds
}

// ensureToken returns a bearer token usable for at least the refresh
// skew, re-authenticating via the challenge/signature exchange when
// the cached one is absent or expiring.
func (p *Poller) ensureToken(ctx context.Context, creds *identity.Credentials) (deviceauth.Token, error) {
	if token, ok := p.tokens.Get(); ok && token.Usable(p.clk.Now()) {
		return token, nil
	}

	token, err := p.backend.Authenticate(ctx, creds.DeviceID, p.id.SigningKey)
	if err != nil {
		return deviceauth.Token{}, err
	}
	p.tokens.Put(token)
	p.logger.Debug("device token refreshed", "expires_at", token.ExpiresAt)
	return token, nil
}

// buildHeartbeat assembles the payload: client state, app build
// identity, optional host metrics, optional log tail.
func (p *Poller) buildHeartbeat(creds *identity.Credentials) backend.Heartbeat {
	heartbeat := backend.Heartbeat{
		DeviceID:     creds.DeviceID,
		AgentVersion: version.Short(),
		SessionID:    p.sessionID,
		ClientState:  p.clientState(),
	}

	if record, err := apprepo.ReadRecord(p.paths.BinaryRecordFile()); err == nil {
		heartbeat.AppRef = record.Commit
		heartbeat.AppHash = record.Hash
	}

	if p.cfg.IncludeMetrics && p.collector != nil {
		metrics := p.collector.Collect()
		heartbeat.Metrics = &metrics
		p.metrics.observeHost(metrics)
	}

	if p.cfg.LogTail > 0 && p.spool != nil {
		heartbeat.LogTail = p.spool.TailText(p.cfg.LogTail)
	}

	return heartbeat
}

// clientState maps supervisor states onto the heartbeat vocabulary:
// running, stopped, crash_loop.
func (p *Poller) clientState() string {
	if p.supervisor == nil {
		return stateStopped
	}
	switch p.supervisor.Snapshot().State {
	case stateBackoff:
		return "crash_loop"
	case stateStopped:
		return stateStopped
	default:
		return stateRunning
	}
}

// reportInterruptedReinstall checks once per process for a reinstall
// transition marker left by a previous agent: a reinstall that was
// interrupted partway (power pull, crash). The intervention is
// reported failed so the backend can decide whether to retry.
func (p *Poller) reportInterruptedReinstall(ctx context.Context, token string) {
	p.mu.Lock()
	done := p.transitionDone
	p.transitionDone = true
	p.mu.Unlock()
	if done {
		return
	}

	transition, found, err := statefile.CheckTransition(p.paths.TransitionFile(), transitionMaxAge, p.clk.Now())
	if err != nil {
		p.logger.Error("reading transition marker", "error", err)
		return
	}
	if !found {
		return
	}

	p.logger.Warn("previous reinstall was interrupted", "intervention_id", transition.InterventionID)
	report := backend.InterventionReport{
		Status: backend.ReportFailed,
		Detail: "agent restarted during reinstall",
	}
	if err := p.backend.ReportIntervention(ctx, token, transition.InterventionID, report); err != nil {
		p.logger.Error("reporting interrupted reinstall", "error", err)
		return
	}
	p.journalEvent(journal.KindIntervention, journal.OutcomeFailed, "reinstall interrupted by agent restart", map[string]string{
		"intervention_id": transition.InterventionID,
	})
	if err := statefile.Clear(p.paths.TransitionFile()); err != nil {
		p.logger.Error("clearing transition marker", "error", err)
	}
}

func (p *Poller) recordHeartbeat(ok bool, detail string) {
	p.status.heartbeatFinished(p.clk.Now(), ok)
	p.metrics.heartbeatFinished(ok)
	outcome := journal.OutcomeOK
	if !ok {
		outcome = journal.OutcomeFailed
	}
	p.journalEvent(journal.KindHeartbeat, outcome, detail, nil)
}

func (p *Poller) journalEvent(kind journal.Kind, outcome, detail string, attributes map[string]string) {
	if p.journal == nil {
		return
	}
	event := journal.Event{Kind: kind, Outcome: outcome, Detail: detail, Attributes: attributes}
	if err := p.journal.Record(context.Background(), event); err != nil {
		p.logger.Error("journaling event", "kind", string(kind), "error", err)
	}
}
