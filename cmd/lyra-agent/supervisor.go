// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/lyra-voice/lyra/lib/apprepo"
	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/journal"
	"github.com/lyra-voice/lyra/lib/logspool"
	"github.com/lyra-voice/lyra/lib/process"
)

// Supervisor states reported over the control socket and in
// heartbeats.
const (
	stateStarting   = "starting"
	stateRunning    = "running"
	stateRestarting = "restarting"
	stateBackoff    = "backoff"
	stateStopped    = "stopped"
)

// activityFileEnv tells the client where to write its voice-activity
// marker. The idle monitor reads the same path.
const activityFileEnv = "LYRA_ACTIVITY_FILE"

// restartRequest asks the supervisor to cycle the client. done is
// closed once the old process is stopped and the replacement start has
// been initiated.
type restartRequest struct {
	reason string
	done   chan struct{}
}

// Supervisor owns the client process: it starts the binary named by
// the app manifest, pipes its output into the log spool, restarts it
// after crashes (subject to a restart budget), and executes restart
// requests from the poller, the idle monitor, and the control socket.
type Supervisor struct {
	appDir       string
	activityPath string
	cfg          config.SupervisorConfig
	clk          clock.Clock
	logger       *slog.Logger
	journal      *journal.Journal
	spool        *logspool.Spool
	metrics      *agentMetrics

	// budget is the crash-restart budget. Requested restarts (backend
	// interventions, idle timeouts, CLI) do not draw from it.
	budget *rate.Limiter

	requests chan restartRequest

	mu        sync.Mutex
	state     string
	pid       int
	restarts  int
	lastStart time.Time
	idleLimit time.Duration
}

// NewSupervisor builds a Supervisor. journal, spool, and metrics may
// be nil in tests; a nil spool discards client output.
func NewSupervisor(appDir, activityPath string, cfg config.SupervisorConfig, clk clock.Clock, logger *slog.Logger, jrnl *journal.Journal, spool *logspool.Spool, metrics *agentMetrics) *Supervisor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		appDir:       appDir,
		activityPath: activityPath,
		cfg:          cfg,
		clk:          clk,
		logger:       logger,
		journal:      jrnl,
		spool:        spool,
		metrics:      metrics,
		budget:       rate.NewLimiter(rate.Every(cfg.RestartRefill.Std()), cfg.RestartBurst),
		requests:     make(chan restartRequest),
		state:        stateStarting,
		idleLimit:    cfg.IdleTimeout.Std(),
	}
}

// Snapshot is the supervisor state served over the control socket.
type Snapshot struct {
	State     string
	PID       int
	Restarts  int
	LastStart time.Time
}

// Snapshot returns the current supervisor state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, PID: s.pid, Restarts: s.restarts, LastStart: s.lastStart}
}

// IdleLimit returns the effective idle-restart window: the manifest
// override when the running client's manifest declares one, otherwise
// the configured default. Zero disables idle restarts.
func (s *Supervisor) IdleLimit() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleLimit
}

// Restart stops the client and starts a fresh one, bypassing the
// crash budget. It blocks until the old process is down and the
// replacement start has begun, or ctx expires. Works from any state:
// a client in backoff restarts immediately.
func (s *Supervisor) Restart(ctx context.Context, reason string) error {
	request := restartRequest{reason: reason, done: make(chan struct{})}
	select {
	case s.requests <- request:
	case <-ctx.Done():
		return fmt.Errorf("supervisor busy: %w", ctx.Err())
	}
	select {
	case <-request.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for client restart: %w", ctx.Err())
	}
}

// Run supervises the client until ctx is cancelled. The final client
// stop (TERM, grace, KILL) happens before Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	first := true
	for {
		if ctx.Err() != nil {
			s.setStopped()
			return nil
		}

		client, err := s.start()
		if err != nil {
			s.logger.Error("client start failed", "error", err)
			s.journalEvent(journal.OutcomeFailed, "client start failed: "+err.Error(), nil)
			if !s.waitBeforeRetry(ctx) {
				s.setStopped()
				return nil
			}
			first = false
			continue
		}

		s.setRunning(client.cmd.Process.Pid, client.idleLimit, !first)
		s.logger.Info("client started", "pid", client.cmd.Process.Pid, "binary", client.binary)
		s.journalEvent(journal.OutcomeOK, "client started", map[string]string{
			"pid":    strconv.Itoa(client.cmd.Process.Pid),
			"binary": client.binary,
		})
		if !first {
			s.metrics.clientRestarted()
		}
		first = false

		select {
		case <-ctx.Done():
			s.stopClient(client)
			s.journalEvent(journal.OutcomeOK, "client stopped for shutdown", nil)
			s.setStopped()
			return nil

		case request := <-s.requests:
			s.setState(stateRestarting)
			s.stopClient(client)
			s.logger.Info("client restart requested", "reason", request.reason)
			s.journalEvent(journal.OutcomeOK, "client restarted: "+request.reason, nil)
			close(request.done)
			// Requested restarts start the replacement immediately.
			continue

		case err := <-client.exit:
			s.setState(stateRestarting)
			client.closeOutputs()
			detail := "client exited"
			attributes := map[string]string{}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				attributes["exit_code"] = strconv.Itoa(exitErr.ExitCode())
				detail = fmt.Sprintf("client exited with code %d", exitErr.ExitCode())
			} else if err != nil {
				detail = "client exited: " + err.Error()
			}
			s.logger.Warn(detail)
			s.journalEvent(journal.OutcomeFailed, detail, attributes)
			if !s.waitBeforeRetry(ctx) {
				s.setStopped()
				return nil
			}
		}
	}
}

// waitBeforeRetry paces crash restarts. Within budget it waits the
// fixed restart delay; with the budget exhausted it enters a backoff
// hold until a credit refills. A restart request during either wait
// cuts it short (the request's restart is the one that happens next).
// Returns false when ctx was cancelled.
func (s *Supervisor) waitBeforeRetry(ctx context.Context) bool {
	wait := s.cfg.RestartDelay.Std()
	if !s.budget.Allow() {
		// Reserve consumes the credit the restart will use once the
		// hold ends.
		wait = s.budget.Reserve().Delay()
		s.setState(stateBackoff)
		s.logger.Warn("client crash loop, holding restarts", "hold", wait.Round(time.Second).String())
		s.journalEvent(journal.OutcomeFailed, "crash_loop: restart budget exhausted", map[string]string{
			"hold": wait.String(),
		})
	}

	select {
	case <-ctx.Done():
		return false
	case request := <-s.requests:
		s.journalEvent(journal.OutcomeOK, "client restarted: "+request.reason, nil)
		close(request.done)
		return true
	case <-s.clk.After(wait):
		return true
	}
}

// client is one running client process and its output plumbing.
type client struct {
	cmd       *exec.Cmd
	binary    string
	exit      chan error
	idleLimit time.Duration

	closeOnce sync.Once
	outputs   []interface{ Close() error }
}

func (c *client) closeOutputs() {
	c.closeOnce.Do(func() {
		for _, output := range c.outputs {
			output.Close()
		}
	})
}

// start reads the manifest and launches the client in its own process
// group with stdout/stderr captured into the spool. The manifest is
// re-read on every start so a reinstall takes effect on the next
// restart without agent involvement.
func (s *Supervisor) start() (*client, error) {
	manifest, err := apprepo.ReadManifest(s.appDir)
	if err != nil {
		return nil, fmt.Errorf("reading app manifest: %w", err)
	}

	binary := manifest.BinaryPath(s.appDir)
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("client binary: %w", err)
	}

	cmd := exec.Command(binary, manifest.Args...)
	cmd.Dir = manifest.WorkDirPath(s.appDir)
	cmd.Env = clientEnv(manifest.Env, s.activityPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	result := &client{cmd: cmd, binary: binary, exit: make(chan error, 1)}
	if s.spool != nil {
		stdout := s.spool.Writer("stdout")
		stderr := s.spool.Writer("stderr")
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		result.outputs = append(result.outputs, stdout, stderr)
	}

	if err := cmd.Start(); err != nil {
		result.closeOutputs()
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}

	result.idleLimit = s.cfg.IdleTimeout.Std()
	if manifest.IdleTimeout > 0 {
		result.idleLimit = manifest.IdleTimeout.Std()
	}

	go func() {
		result.exit <- cmd.Wait()
	}()

	return result, nil
}

// clientEnv merges the manifest environment over the agent's own and
// adds the activity-file path. Manifest keys are applied in sorted
// order so repeated starts build identical environments.
func clientEnv(manifestEnv map[string]string, activityPath string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(manifestEnv))
	for key := range manifestEnv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, key+"="+manifestEnv[key])
	}
	env = append(env, activityFileEnv+"="+activityPath)
	return env
}

// stopClient terminates the client's process group: SIGTERM, the
// configured grace, then SIGKILL. The exit channel is drained so the
// process is reaped before returning.
func (s *Supervisor) stopClient(c *client) {
	pgid := c.cmd.Process.Pid
	if err := process.StopGroup(context.Background(), s.clk, pgid, s.cfg.StopGrace.Std()); err != nil {
		s.logger.Error("stopping client process group", "pgid", pgid, "error", err)
	}
	<-c.exit
	c.closeOutputs()
	s.mu.Lock()
	s.pid = 0
	s.mu.Unlock()
}

func (s *Supervisor) setRunning(pid int, idleLimit time.Duration, countRestart bool) {
	s.mu.Lock()
	s.state = stateRunning
	s.pid = pid
	s.lastStart = s.clk.Now()
	s.idleLimit = idleLimit
	if countRestart {
		s.restarts++
	}
	s.mu.Unlock()
}

func (s *Supervisor) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) setStopped() {
	s.mu.Lock()
	s.state = stateStopped
	s.pid = 0
	s.mu.Unlock()
}

// journalEvent records a supervision event. Nil journal (tests)
// discards; a journal write failure only logs.
func (s *Supervisor) journalEvent(outcome, detail string, attributes map[string]string) {
	if s.journal == nil {
		return
	}
	event := journal.Event{
		Kind:       journal.KindSupervision,
		Outcome:    outcome,
		Detail:     detail,
		Attributes: attributes,
	}
	if err := s.journal.Record(context.Background(), event); err != nil {
		s.logger.Error("journaling supervision event", "error", err)
	}
}
