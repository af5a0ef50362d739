// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package wifi drives NetworkManager through nmcli for the device
// setup flow: scan visible networks, join one, report the active
// connection, and wait for real internet reachability. All nmcli
// parsing uses terse (-t) output, which is stable across nmcli
// versions where the human tables are not.
//
// AP bring-up and captive-portal hosting are deliberately absent;
// this package only joins existing networks.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/lyra-voice/lyra/lib/clock"
)

// Config configures a Manager. Zero values get device defaults.
type Config struct {
	// ConnectAttempts is the total tries per Connect call.
	// Default: 3
	ConnectAttempts int

	// ConnectRetryDelay is the fixed wait between tries. Default: 5s
	ConnectRetryDelay time.Duration

	// ProbeURL is the connectivity check endpoint, expected to answer
	// 204 No Content. Default: the gstatic generate_204 endpoint.
	ProbeURL string

	// ProbeInterval is the wait between connectivity probes in
	// WaitOnline. Default: 2s
	ProbeInterval time.Duration

	// HTTPClient overrides the probe client. Default: 5s timeout.
	HTTPClient *http.Client

	// Clock overrides time for tests.
	Clock clock.Clock

	// Logger receives connect/retry progress. Default: discard.
	Logger *slog.Logger
}

// Manager wraps nmcli. All commands run through a single exec path so
// errors carry the nmcli invocation and its trimmed output.
type Manager struct {
	run               runFunc
	connectAttempts   int
	connectRetryDelay time.Duration
	probeURL          string
	probeInterval     time.Duration
	httpClient        *http.Client
	clk               clock.Clock
	logger            *slog.Logger
}

// runFunc executes nmcli with the given arguments and returns combined
// output. Swapped in tests.
type runFunc func(ctx context.Context, args ...string) (string, error)

// NewManager returns a Manager with defaults applied.
func NewManager(cfg Config) *Manager {
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 3
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = 5 * time.Second
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = "http://connectivitycheck.gstatic.com/generate_204"
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		run:               runNmcli,
		connectAttempts:   cfg.ConnectAttempts,
		connectRetryDelay: cfg.ConnectRetryDelay,
		probeURL:          cfg.ProbeURL,
		probeInterval:     cfg.ProbeInterval,
		httpClient:        cfg.HTTPClient,
		clk:               cfg.Clock,
		logger:            cfg.Logger,
	}
}

// runNmcli executes nmcli and returns combined output. Errors include
// the full invocation and trimmed output, because nmcli writes its
// diagnostics to the stream that happens to be convenient.
func runNmcli(ctx context.Context, args ...string) (string, error) {
	command := exec.CommandContext(ctx, "nmcli", args...)
	output, err := command.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("nmcli %s: %w (%s)",
			strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// RadioOn enables the WiFi radio. Idempotent.
func (m *Manager) RadioOn(ctx context.Context) error {
	if _, err := m.run(ctx, "radio", "wifi", "on"); err != nil {
		return err
	}
	return nil
}

// Scan rescans and returns visible networks, strongest first. Multiple
// BSSIDs broadcasting one SSID collapse to the strongest; hidden
// networks (empty SSID) are dropped.
func (m *Manager) Scan(ctx context.Context) ([]Network, error) {
	output, err := m.run(ctx, "-t", "-f", "SSID,SIGNAL,SECURITY",
		"device", "wifi", "list", "--rescan", "yes")
	if err != nil {
		return nil, err
	}
	return parseScanOutput(output), nil
}

// Connect joins the given SSID, retrying on failure at a fixed
// interval. A secrets failure (wrong passphrase) is permanent and
// returns immediately — retrying the same wrong key just delays the
// user's correction.
func (m *Manager) Connect(ctx context.Context, ssid, password string) error {
	if ssid == "" {
		return errors.New("ssid is empty")
	}
	args := []string{"device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}

	var lastErr error
	for attempt := 0; attempt < m.connectAttempts; attempt++ {
		if attempt > 0 {
			m.logger.Warn("wifi connect failed, retrying",
				"ssid", ssid,
				"attempt", attempt,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.clk.After(m.connectRetryDelay):
			}
		}

		_, err := m.run(ctx, args...)
		if err == nil {
			m.logger.Info("wifi connected", "ssid", ssid)
			return nil
		}
		if strings.Contains(err.Error(), "Secrets were required") {
			return fmt.Errorf("joining %q: wrong passphrase: %w", ssid, err)
		}
		lastErr = err
	}
	return fmt.Errorf("joining %q after %d attempts: %w", ssid, m.connectAttempts, lastErr)
}

// Status reports the active wireless connection, if any.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	output, err := m.run(ctx, "-t", "-f", "NAME,TYPE,DEVICE",
		"connection", "show", "--active")
	if err != nil {
		return nil, err
	}
	status := parseActiveConnections(output)
	return &status, nil
}

// Probe makes one connectivity check: a GET that must answer 204 No
// Content. A captive portal answering 200 with a login page fails the
// check, which is the point.
func (m *Manager) Probe(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return fmt.Errorf("building connectivity probe: %w", err)
	}
	response, err := m.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("connectivity probe: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, io.LimitReader(response.Body, 4096))

	if response.StatusCode != http.StatusNoContent {
		return fmt.Errorf("connectivity probe: status %d, want 204", response.StatusCode)
	}
	return nil
}

// WaitOnline probes until connectivity is confirmed or timeout passes.
func (m *Manager) WaitOnline(ctx context.Context, timeout time.Duration) error {
	deadline := m.clk.Now().Add(timeout)
	for {
		if err := m.Probe(ctx); err == nil {
			return nil
		} else if !m.clk.Now().Add(m.probeInterval).Before(deadline) {
			return fmt.Errorf("no internet connectivity after %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clk.After(m.probeInterval):
		}
	}
}
