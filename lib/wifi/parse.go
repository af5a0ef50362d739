// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package wifi

import (
	"sort"
	"strconv"
	"strings"
)

// Network is one visible WiFi network.
type Network struct {
	// SSID is the network name.
	SSID string

	// Signal is the strength percentage, 0-100.
	Signal int

	// Security is the nmcli security summary, e.g. "WPA2" or
	// "WPA1 WPA2". Empty means an open network.
	Security string
}

// Status describes the active wireless connection.
type Status struct {
	// Connected reports whether any wireless connection is active.
	Connected bool

	// Name is the active connection profile name. Profiles created by
	// Connect are named after the SSID.
	Name string

	// Device is the wireless interface, e.g. wlan0.
	Device string
}

// parseScanOutput parses `nmcli -t -f SSID,SIGNAL,SECURITY device wifi
// list`. One line per BSSID; the same SSID appears once per access
// point, so entries collapse to the strongest signal.
func parseScanOutput(output string) []Network {
	strongest := make(map[string]Network)
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		fields := splitTerse(line)
		if len(fields) != 3 {
			continue
		}
		ssid := fields[0]
		if ssid == "" {
			// Hidden network. Nothing to offer the picker.
			continue
		}
		signal, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		if existing, seen := strongest[ssid]; seen && existing.Signal >= signal {
			continue
		}
		strongest[ssid] = Network{SSID: ssid, Signal: signal, Security: fields[2]}
	}

	networks := make([]Network, 0, len(strongest))
	for _, network := range strongest {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool {
		if networks[i].Signal != networks[j].Signal {
			return networks[i].Signal > networks[j].Signal
		}
		return networks[i].SSID < networks[j].SSID
	})
	return networks
}

// parseActiveConnections parses `nmcli -t -f NAME,TYPE,DEVICE
// connection show --active` and picks the first wireless entry.
func parseActiveConnections(output string) Status {
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		fields := splitTerse(line)
		if len(fields) != 3 {
			continue
		}
		if !strings.Contains(fields[1], "wireless") {
			continue
		}
		return Status{Connected: true, Name: fields[0], Device: fields[2]}
	}
	return Status{}
}

// splitTerse splits one line of nmcli -t output on unescaped colons.
// nmcli escapes ':' and '\' inside values with a backslash.
func splitTerse(line string) []string {
	var fields []string
	var field strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			field.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, field.String())
			field.Reset()
		default:
			field.WriteRune(r)
		}
	}
	fields = append(fields, field.String())
	return fields
}
