// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Lyra-agent is the on-device daemon. It holds in one process what the
// device previously ran as separate backgrounded jobs: a supervisor
// that keeps the voice client running (restart on crash, restart on
// idle), and a poller that heartbeats the backend and executes remote
// interventions. A unix control socket serves status and admin actions
// to the lyra CLI.
//
// On startup:
//  1. Loads configuration (.env, agent.yaml, LYRA_* variables).
//  2. Refuses to start when a live PID file points at another agent.
//  3. Loads or generates the device identity keys.
//  4. Opens the encrypted log spool and the local journal.
//  5. Starts the supervisor, poller, idle monitor, control socket,
//     housekeeping scheduler, and (when configured) metrics listener.
//
// The PID, activity, and pairing-code marker files keep the same
// locations and formats the original shell tooling used, so external
// integrations that watch those files keep working.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lyra-voice/lyra/lib/backend"
	"github.com/lyra-voice/lyra/lib/clock"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/hostinfo"
	"github.com/lyra-voice/lyra/lib/identity"
	"github.com/lyra-voice/lyra/lib/journal"
	"github.com/lyra-voice/lyra/lib/logspool"
	"github.com/lyra-voice/lyra/lib/process"
	"github.com/lyra-voice/lyra/lib/statefile"
	"github.com/lyra-voice/lyra/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		stateDir    string
		socketPath  string
		metricsAddr string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "agent config file (default /etc/lyra/agent.yaml when present)")
	flag.StringVar(&stateDir, "state-dir", "", "override the state directory")
	flag.StringVar(&socketPath, "socket", "", "override the control socket path")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "override the metrics listen address (empty string in config disables)")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("lyra-agent %s\n", version.Info())
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if stateDir != "" {
		cfg.Paths.State = stateDir
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	if socketPath == "" {
		socketPath = cfg.Paths.Socket()
	}

	// Refuse to double-start. A stale PID file from an unclean
	// shutdown is replaced silently.
	if existing, err := statefile.ReadPID(cfg.Paths.PIDFile()); err == nil && process.Alive(existing.PID) && existing.PID != os.Getpid() {
		return fmt.Errorf("agent already running (pid %d, started %s)", existing.PID, existing.StartedAt.Format(time.RFC3339))
	}

	clk := clock.System()
	startedAt := clk.Now()
	if err := statefile.WritePID(cfg.Paths.PIDFile(), statefile.PID{
		PID:       os.Getpid(),
		StartedAt: startedAt,
		Version:   version.Short(),
	}); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer statefile.Clear(cfg.Paths.PIDFile())

	id, generated, err := identity.LoadOrGenerate(cfg.Paths.IdentityDir())
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}
	defer id.Close()
	logger.Info("device identity ready", "fingerprint", id.Fingerprint(), "generated", generated)

	// Credentials exist only after pairing. An unpaired agent still
	// supervises the client; the poller picks the credentials up once
	// `lyra pair` writes them. A bundle pinned to a backend URL
	// overrides the configured one.
	if creds, err := identity.LoadCredentials(cfg.Paths.IdentityDir(), id.SealKey); err == nil {
		logger.Info("device paired", "device_id", creds.DeviceID)
		if creds.BackendURL != "" {
			cfg.Backend.BaseURL = creds.BackendURL
		}
	}

	spoolKey, err := logspool.DeriveSpoolKey(id.SealKey)
	if err != nil {
		return fmt.Errorf("deriving spool key: %w", err)
	}
	defer spoolKey.Close()

	spool, err := logspool.Open(cfg.Paths.SpoolDir(), spoolKey, logspool.Options{
		MaxChunks: cfg.Maintenance.SpoolMaxChunks,
		Clock:     clk,
	})
	if err != nil {
		return fmt.Errorf("opening log spool: %w", err)
	}
	defer spool.Close()

	jrnl, err := journal.Open(journal.Config{
		Path:   cfg.Paths.JournalDB(),
		Clock:  clk,
		Logger: logger.With("component", "journal"),
	})
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer jrnl.Close()

	api, err := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout.Std(),
		RetryAttempts:  cfg.Backend.RetryAttempts,
		RetryBackoff:   cfg.Backend.RetryBackoff.Std(),
		RateLimit:      cfg.Backend.RateLimit,
		RateBurst:      cfg.Backend.RateBurst,
		Clock:          clk,
		Logger:         logger.With("component", "backend"),
	})
	if err != nil {
		return fmt.Errorf("creating backend client: %w", err)
	}

	metrics := newAgentMetrics()

	supervisor := NewSupervisor(
		cfg.Paths.AppDir(),
		cfg.Paths.ActivityFile(),
		cfg.Supervisor,
		clk,
		logger.With("component", "supervisor"),
		jrnl,
		spool,
		metrics,
	)

	poller := &Poller{
		cfg:        cfg.Heartbeat,
		app:        cfg.App,
		paths:      cfg.Paths,
		backend:    api,
		id:         id,
		supervisor: supervisor,
		collector:  hostinfo.NewCollector(cfg.Paths.State),
		spool:      spool,
		journal:    jrnl,
		status:     &statusTracker{},
		metrics:    metrics,
		clk:        clk,
		logger:     logger.With("component", "poller"),
		sessionID:  uuid.NewString(),
		systemctl:  runSystemctl,
	}

	idle := newIdleMonitor(
		cfg.Paths.ActivityFile(),
		cfg.Supervisor.IdleSweep.Std(),
		supervisor,
		clk,
		logger.With("component", "idle"),
	)

	scheduler, err := startMaintenance(cfg.Maintenance, jrnl, spool, logger.With("component", "maintenance"))
	if err != nil {
		return err
	}
	defer scheduler.Shutdown()

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, shutdown := context.WithCancel(signalCtx)
	defer shutdown()

	control := newControlServer(socketPath, controlDeps{
		startedAt:  startedAt,
		supervisor: supervisor,
		poller:     poller,
		status:     poller.status,
		spool:      spool,
		shutdown:   shutdown,
	}, logger.With("component", "ctl"))

	logger.Info("lyra-agent starting",
		"version", version.Info(),
		"environment", string(cfg.Environment),
		"session_id", poller.sessionID,
		"state_dir", cfg.Paths.State,
	)

	var group sync.WaitGroup
	runComponent := func(name string, fn func(context.Context) error) {
		group.Add(1)
		go func() {
			defer group.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error("component failed", "component", name, "error", err)
				shutdown()
			}
		}()
	}

	runComponent("supervisor", supervisor.Run)
	runComponent("poller", poller.Run)
	runComponent("idle", idle.Run)
	runComponent("ctl", control.Serve)
	if cfg.Metrics.Addr != "" {
		runComponent("metrics", func(ctx context.Context) error {
			return serveMetrics(ctx, cfg.Metrics.Addr, metrics, logger.With("component", "metrics"))
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	group.Wait()

	if err := spool.Flush(); err != nil {
		logger.Error("final spool flush failed", "error", err)
	}
	logger.Info("lyra-agent stopped")
	return nil
}

// loadConfig loads the agent configuration, honoring an explicit
// --config path over the discovery chain.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
