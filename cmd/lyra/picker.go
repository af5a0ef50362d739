// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"

	"github.com/lyra-voice/lyra/lib/wifi"
)

// errPickerCancelled is returned when the user dismisses the picker
// without choosing a network.
var errPickerCancelled = errors.New("no network selected")

// pickerVisible caps how many ranked networks are drawn; scans in
// dense areas return dozens.
const pickerVisible = 12

func init() {
	algo.Init("default")
}

// rankNetworks orders networks for the picker: fuzzy match score for a
// non-empty query (non-matching networks drop out), signal strength
// otherwise.
func rankNetworks(networks []wifi.Network, query string, slab *util.Slab) []wifi.Network {
	if strings.TrimSpace(query) == "" {
		ranked := make([]wifi.Network, len(networks))
		copy(ranked, networks)
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Signal > ranked[j].Signal
		})
		return ranked
	}

	pattern := []rune(strings.ToLower(query))
	type scored struct {
		network wifi.Network
		score   int
	}
	var matches []scored
	for _, network := range networks {
		chars := util.ToChars([]byte(network.SSID))
		result, _ := algo.FuzzyMatchV2(false, true, true, &chars, pattern, false, slab)
		if result.Start < 0 {
			continue
		}
		matches = append(matches, scored{network: network, score: result.Score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].network.Signal > matches[j].network.Signal
	})

	ranked := make([]wifi.Network, len(matches))
	for i, match := range matches {
		ranked[i] = match.network
	}
	return ranked
}

// signalBars renders signal strength as a four-step bar gauge.
func signalBars(signal int) string {
	filled := 0
	switch {
	case signal >= 75:
		filled = 4
	case signal >= 50:
		filled = 3
	case signal >= 25:
		filled = 2
	case signal > 0:
		filled = 1
	}
	return strings.Repeat("▂", filled) + strings.Repeat(" ", 4-filled)
}

var (
	pickerTitleStyle    = lipgloss.NewStyle().Bold(true)
	pickerSelectedStyle = lipgloss.NewStyle().Reverse(true)
	pickerDimStyle      = lipgloss.NewStyle().Faint(true)
)

// pickerModel is the interactive SSID chooser: type to filter (fuzzy),
// arrows to move, enter to select, esc to cancel.
type pickerModel struct {
	networks []wifi.Network
	input    textinput.Model
	slab     *util.Slab

	ranked   []wifi.Network
	cursor   int
	choice   string
	canceled bool
}

func newPickerModel(networks []wifi.Network) pickerModel {
	input := textinput.New()
	input.Placeholder = "type to filter"
	input.Focus()

	model := pickerModel{
		networks: networks,
		input:    input,
		slab:     util.MakeSlab(100*1024, 2048),
	}
	model.ranked = rankNetworks(networks, "", model.slab)
	return model
}

func (m pickerModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.canceled = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.cursor < len(m.ranked) {
				m.choice = m.ranked[m.cursor].SSID
			}
			return m, tea.Quit
		case tea.KeyUp, tea.KeyCtrlP:
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case tea.KeyDown, tea.KeyCtrlN:
			if m.cursor < len(m.ranked)-1 {
				m.cursor++
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.ranked = rankNetworks(m.networks, m.input.Value(), m.slab)
	if m.cursor >= len(m.ranked) {
		m.cursor = 0
	}
	return m, cmd
}

func (m pickerModel) View() string {
	var view strings.Builder
	view.WriteString(pickerTitleStyle.Render("Select a WiFi network"))
	view.WriteString("\n")
	view.WriteString(m.input.View())
	view.WriteString("\n\n")

	if len(m.ranked) == 0 {
		view.WriteString(pickerDimStyle.Render("  no matching networks"))
		view.WriteString("\n")
		return view.String()
	}

	visible := m.ranked
	if len(visible) > pickerVisible {
		visible = visible[:pickerVisible]
	}
	for i, network := range visible {
		security := network.Security
		if security == "" {
			security = "open"
		}
		line := fmt.Sprintf("  %s  %-32s %s", signalBars(network.Signal), network.SSID, pickerDimStyle.Render(security))
		if i == m.cursor {
			line = pickerSelectedStyle.Render(line)
		}
		view.WriteString(line)
		view.WriteString("\n")
	}
	view.WriteString("\n")
	view.WriteString(pickerDimStyle.Render("  enter: connect   esc: cancel"))
	view.WriteString("\n")
	return view.String()
}

// pickNetwork runs the interactive chooser and returns the selected
// SSID.
func pickNetwork(networks []wifi.Network) (string, error) {
	if len(networks) == 0 {
		return "", errors.New("no networks found")
	}

	program := tea.NewProgram(newPickerModel(networks))
	final, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("running network picker: %w", err)
	}
	model := final.(pickerModel)
	if model.canceled || model.choice == "" {
		return "", errPickerCancelled
	}
	return model.choice, nil
}
