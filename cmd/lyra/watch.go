// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/spf13/pflag"

	"github.com/lyra-voice/lyra/cmd/lyra/cli"
	"github.com/lyra-voice/lyra/lib/config"
	"github.com/lyra-voice/lyra/lib/ctl"
	"github.com/lyra-voice/lyra/lib/journal"
)

// watchInterval is how often the dashboard polls the agent and the
// journal.
const watchInterval = time.Second

// watchEventRows is how many journal events the dashboard shows.
const watchEventRows = 12

func watchCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "watch",
		Summary: "Live agent dashboard",
		Description: `Show a live terminal dashboard: client supervision state, heartbeat
results, intervention counts, and the most recent journal events.

Keys: r restarts the client, q quits.`,
		Usage: "lyra watch [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "agent config file (default: discovery chain)")
			return flagSet
		},
		Run: func(args []string) error {
			return runWatch(configPath)
		},
	}
}

func runWatch(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	jrnl, err := journal.Open(journal.Config{Path: cfg.Paths.JournalDB()})
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer jrnl.Close()

	program := tea.NewProgram(newWatchModel(cfg, jrnl), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// watchSnapshot is one poll result delivered to the model.
type watchSnapshot struct {
	status *ctl.Status
	err    error
	events []journal.Event
}

type watchTickMsg time.Time

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true)
	watchLabelStyle  = lipgloss.NewStyle().Faint(true).Width(14)
	watchOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	watchBadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	watchDimStyle    = lipgloss.NewStyle().Faint(true)
	watchNoticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

type watchModel struct {
	cfg   *config.Config
	jrnl  *journal.Journal
	spin  spinner.Model
	width int

	snapshot watchSnapshot
	polled   bool
	notice   string
}

func newWatchModel(cfg *config.Config, jrnl *journal.Journal) watchModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	return watchModel{cfg: cfg, jrnl: jrnl, spin: spin, width: 80}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.poll, watchTick())
}

func watchTick() tea.Cmd {
	return tea.Tick(watchInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

// poll gathers one snapshot off the UI goroutine.
func (m watchModel) poll() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), watchInterval)
	defer cancel()

	var snapshot watchSnapshot
	snapshot.status, snapshot.err = ctl.NewClient(m.cfg.Paths.Socket()).Status(ctx)
	if events, err := m.jrnl.Recent(ctx, journal.Filter{Limit: watchEventRows}); err == nil {
		snapshot.events = events
	}
	return snapshot
}

func (m watchModel) restartClient() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ctl.NewClient(m.cfg.Paths.Socket()).RestartClient(ctx); err != nil {
		return watchNoticeMsg(fmt.Sprintf("restart failed: %v", err))
	}
	return watchNoticeMsg("restart requested")
}

type watchNoticeMsg string

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.notice = "restarting client..."
			return m, m.restartClient
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case watchTickMsg:
		return m, tea.Batch(m.poll, watchTick())

	case watchSnapshot:
		m.snapshot = msg
		m.polled = true
		return m, nil

	case watchNoticeMsg:
		m.notice = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.spin, cmd = m.spin.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	var view string
	view += watchTitleStyle.Render("lyra watch") + "\n\n"

	switch {
	case !m.polled:
		view += m.spin.View() + " connecting to agent\n"
	case m.snapshot.err != nil:
		view += watchBadStyle.Render("agent unreachable") +
			watchDimStyle.Render(fmt.Sprintf("  (%v)", m.snapshot.err)) + "\n"
	default:
		view += m.renderStatus(m.snapshot.status)
	}

	view += "\n" + watchTitleStyle.Render("recent events") + "\n"
	if len(m.snapshot.events) == 0 {
		view += watchDimStyle.Render("  none") + "\n"
	}
	for _, event := range m.snapshot.events {
		view += m.renderEvent(event) + "\n"
	}

	if m.notice != "" {
		view += "\n" + watchNoticeStyle.Render(m.notice) + "\n"
	}
	view += "\n" + watchDimStyle.Render("r restart client · q quit") + "\n"
	return view
}

func (m watchModel) renderStatus(status *ctl.Status) string {
	var view string
	row := func(label, value string) {
		view += watchLabelStyle.Render(label) + value + "\n"
	}

	row("agent", fmt.Sprintf("pid %d, %s, up %s",
		status.PID, status.Version, time.Since(status.StartedAt).Round(time.Second)))
	if status.Paired {
		row("paired", watchOKStyle.Render(status.DeviceID))
	} else {
		row("paired", watchBadStyle.Render("no"))
	}

	client := status.ClientState
	if status.ClientPID != 0 {
		client += fmt.Sprintf(" (pid %d)", status.ClientPID)
	}
	if status.ClientRestarts > 0 {
		client += fmt.Sprintf(", %d restarts", status.ClientRestarts)
	}
	if status.ClientState == "running" {
		row("client", watchOKStyle.Render(client))
	} else {
		row("client", watchBadStyle.Render(client))
	}

	switch {
	case status.LastHeartbeat.IsZero():
		row("heartbeat", m.spin.View()+" waiting for first attempt")
	case status.LastHeartbeatOK:
		row("heartbeat", watchOKStyle.Render("ok")+
			watchDimStyle.Render(fmt.Sprintf(" %s ago", time.Since(status.LastHeartbeat).Round(time.Second))))
	default:
		row("heartbeat", watchBadStyle.Render("failed")+
			watchDimStyle.Render(fmt.Sprintf(" %s ago", time.Since(status.LastHeartbeat).Round(time.Second))))
	}

	row("interventions", fmt.Sprintf("%d executed", status.Interventions))
	row("spool", fmt.Sprintf("%d pending lines", status.SpoolPending))
	return view
}

// renderEvent formats one journal row, truncated to the terminal width
// so long details cannot wrap and break the layout.
func (m watchModel) renderEvent(event journal.Event) string {
	outcome := watchOKStyle.Render("ok")
	if event.Outcome != journal.OutcomeOK {
		outcome = watchBadStyle.Render(event.Outcome)
	}
	line := fmt.Sprintf("  %s  %-12s %s  %s",
		event.Time.Local().Format("15:04:05"), event.Kind, outcome, event.Detail)
	return ansi.Truncate(line, m.width, "…")
}
