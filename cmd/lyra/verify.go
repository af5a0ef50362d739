// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/apprepo"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/ctl"
	"github.com/lyra-voice/lyra/lib/hostinfo"
	"github.com/lyra-voice/lyra/lib/identity"
	"github.com/lyra-voice/lyra/lib/journal"
	"github.com/lyra-voice/lyra/lib/process"
	"github.com/lyra-voice/lyra/lib/statefile"
	"github.com/lyra-voice/lyra/lib/sysconf"
	"github.com/lyra-voice/lyra/lib/wifi"
)

// Finding levels. FAIL means the device will not work in production;
// WARN means it will work but something deserves attention.
const (
	verifyPass = "PASS"
	verifyWarn = "WARN"
	verifyFail = "FAIL"
)

// diskHeadroomMB is the free-space floor below which verify warns. A
// full SD card corrupts the journal and spool long before it is
// actually full.
const diskHeadroomMB = 512

// activityMaxAge is how stale the activity file may be before verify
// warns that the client looks unused.
const activityMaxAge = 24 * time.Hour

// finding is one verify check result.
type finding struct {
	level  string
	name   string
	detail string
}

// verifyCheck is a named production-readiness probe.
type verifyCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) finding
}

func verifyCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "verify",
		Summary: "Check production readiness",
		Description: `Run the production-readiness suite: config, identity, pairing, app
checkout and binary hash, agent liveness, activity freshness,
connectivity, disk headroom, journal, systemd presence, and OS tuning.

Prints a PASS/WARN/FAIL report. Always exits 0: verify is a report,
not a gate, so provisioning scripts can run it unconditionally.`,
		Usage: "lyra verify [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			return flagSet
		},
		Run: func(args []string) error {
			return runVerify(configPath)
		},
	}
}

func runVerify(configPath string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(configPath)
	if err != nil {
		printFinding(finding{verifyFail, "config", err.Error()})
		fmt.Println("\n0 passed, 0 warnings, 1 failed")
		return nil
	}

	findings := []finding{checkConfig(cfg)}
	for _, check := range verifyChecks() {
		findings = append(findings, check.run(ctx, cfg))
	}

	var passed, warned, failed int
	for _, f := range findings {
		printFinding(f)
		switch f.level {
		case verifyPass:
			passed++
		case verifyWarn:
			warned++
		case verifyFail:
			failed++
		}
	}
	fmt.Printf("\n%d passed, %d warnings, %d failed\n", passed, warned, failed)
	return nil
}

func printFinding(f finding) {
	fmt.Printf("%-4s  %-12s %s\n", f.level, f.name, f.detail)
}

func verifyChecks() []verifyCheck {
	return []verifyCheck{
		{"identity", checkIdentity},
		{"app", checkApp},
		{"agent", checkAgent},
		{"activity", checkActivity},
		{"network", checkNetwork},
		{"disk", checkDisk},
		{"journal", checkJournal},
		{"systemd", checkSystemd},
		{"tuning", checkTuning},
	}
}

func checkConfig(cfg *config.Config) finding {
	if err := cfg.Validate(); err != nil {
		return finding{verifyFail, "config", err.Error()}
	}
	return finding{verifyPass, "config", fmt.Sprintf("valid (%s environment)", cfg.Environment)}
}

func checkIdentity(ctx context.Context, cfg *config.Config) finding {
	id, err := identity.Load(cfg.Paths.IdentityDir())
	if err != nil {
		return finding{verifyFail, "identity", "no device identity; run 'lyra pair'"}
	}
	defer id.Close()

	creds, err := identity.LoadCredentials(cfg.Paths.IdentityDir(), id.SealKey)
	if err != nil {
		return finding{verifyWarn, "identity", fmt.Sprintf("keys present (%s) but device is not paired", id.Fingerprint())}
	}
	return finding{verifyPass, "identity", fmt.Sprintf("paired as %s", creds.DeviceID)}
}

func checkApp(ctx context.Context, cfg *config.Config) finding {
	manifest, err := apprepo.ReadManifest(cfg.Paths.AppDir())
	if err != nil {
		return finding{verifyFail, "app", "no app checkout; run 'lyra install'"}
	}

	record, err := apprepo.ReadRecord(cfg.Paths.BinaryRecordFile())
	if err != nil {
		return finding{verifyFail, "app", "checkout present but binary hash was never recorded"}
	}
	if err := apprepo.VerifyBinary(manifest.BinaryPath(cfg.Paths.AppDir()), record); err != nil {
		return finding{verifyFail, "app", err.Error()}
	}
	return finding{verifyPass, "app", fmt.Sprintf("%s at %s, hash verified", manifest.Binary, shortCommit(record.Commit))}
}

func checkAgent(ctx context.Context, cfg *config.Config) finding {
	entry, err := statefile.ReadPID(cfg.Paths.PIDFile())
	if err != nil || entry.PID == 0 || !process.Alive(entry.PID) {
		return finding{verifyFail, "agent", "agent is not running"}
	}

	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	status, err := ctl.NewClient(cfg.Paths.Socket()).Status(statusCtx)
	if err != nil {
		return finding{verifyWarn, "agent", fmt.Sprintf("pid %d alive but the control socket is unresponsive: %v", entry.PID, err)}
	}
	if status.ClientState != "running" {
		return finding{verifyWarn, "agent", fmt.Sprintf("agent up, client state %q after %d restarts", status.ClientState, status.ClientRestarts)}
	}
	return finding{verifyPass, "agent", fmt.Sprintf("pid %d, client running (pid %d)", status.PID, status.ClientPID)}
}

func checkActivity(ctx context.Context, cfg *config.Config) finding {
	activity, fresh, err := statefile.ActivityWithin(cfg.Paths.ActivityFile(), activityMaxAge, time.Now())
	if err != nil {
		return finding{verifyWarn, "activity", err.Error()}
	}
	if activity.LastInteraction.IsZero() {
		return finding{verifyWarn, "activity", "no voice interaction recorded yet"}
	}
	if !fresh {
		return finding{verifyWarn, "activity", fmt.Sprintf("last interaction %s ago", time.Since(activity.LastInteraction).Round(time.Minute))}
	}
	return finding{verifyPass, "activity", fmt.Sprintf("last interaction %s ago", time.Since(activity.LastInteraction).Round(time.Minute))}
}

func checkNetwork(ctx context.Context, cfg *config.Config) finding {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wifi.NewManager(wifi.Config{}).Probe(probeCtx); err != nil {
		return finding{verifyFail, "network", fmt.Sprintf("internet unreachable: %v", err)}
	}
	return finding{verifyPass, "network", "internet reachable"}
}

func checkDisk(ctx context.Context, cfg *config.Config) finding {
	freeMB, totalMB := hostinfo.Disk(cfg.Paths.State)
	if totalMB == 0 {
		return finding{verifyWarn, "disk", "could not stat the state filesystem"}
	}
	if freeMB < diskHeadroomMB {
		return finding{verifyWarn, "disk", fmt.Sprintf("only %d MB free (floor %d MB)", freeMB, diskHeadroomMB)}
	}
	return finding{verifyPass, "disk", fmt.Sprintf("%d MB free of %d MB", freeMB, totalMB)}
}

func checkJournal(ctx context.Context, cfg *config.Config) finding {
	jrnl, err := journal.Open(journal.Config{Path: cfg.Paths.JournalDB()})
	if err != nil {
		return finding{verifyFail, "journal", err.Error()}
	}
	defer jrnl.Close()

	counts, err := jrnl.Counts(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return finding{verifyFail, "journal", err.Error()}
	}
	return finding{verifyPass, "journal", fmt.Sprintf("reachable, %d heartbeats in the last day", counts[journal.KindHeartbeat])}
}

func checkSystemd(ctx context.Context, cfg *config.Config) finding {
	return systemdFinding(cfg, "/")
}

// systemdFinding is checkSystemd with the host root made explicit.
func systemdFinding(cfg *config.Config, root string) finding {
	present := config.HasSystemd(root)
	switch {
	case !present && cfg.App.Unit != "":
		return finding{verifyFail, "systemd", fmt.Sprintf("app.unit is %q but the host is not running systemd", cfg.App.Unit)}
	case !present:
		return finding{verifyWarn, "systemd", "host is not running systemd; the agent will not survive a reboot"}
	case cfg.App.Unit != "":
		return finding{verifyPass, "systemd", fmt.Sprintf("running, restarts via unit %s", cfg.App.Unit)}
	default:
		return finding{verifyPass, "systemd", "running, client supervised in-process"}
	}
}

func checkTuning(ctx context.Context, cfg *config.Config) finding {
	applied, err := sysconf.Applied(sysconf.Fragments("/"))
	if err != nil {
		return finding{verifyWarn, "tuning", err.Error()}
	}
	if !applied {
		return finding{verifyWarn, "tuning", "fragments missing or stale; run 'lyra tune'"}
	}
	return finding{verifyPass, "tuning", "all fragments applied"}
}
