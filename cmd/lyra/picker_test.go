// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/junegunn/fzf/src/util"

	"github.com/lyra-voice/lyra/lib/wifi"
)

func scanResults() []wifi.Network {
	return []wifi.Network{
		{SSID: "HomeNet", Signal: 61, Security: "WPA2"},
		{SSID: "CoffeeHouse Guest", Signal: 88, Security: ""},
		{SSID: "Neighbours 5G", Signal: 34, Security: "WPA2"},
		{SSID: "HomeNet 5G", Signal: 72, Security: "WPA2"},
	}
}

func TestRankNetworksEmptyQuerySortsBySignal(t *testing.T) {
	networks := scanResults()
	ranked := rankNetworks(networks, "", util.MakeSlab(100*1024, 2048))

	want := []string{"CoffeeHouse Guest", "HomeNet 5G", "HomeNet", "Neighbours 5G"}
	if len(ranked) != len(want) {
		t.Fatalf("ranked %d networks, want %d", len(ranked), len(want))
	}
	for i, ssid := range want {
		if ranked[i].SSID != ssid {
			t.Errorf("ranked[%d] = %q, want %q", i, ranked[i].SSID, ssid)
		}
	}
	// The input order must survive ranking.
	if networks[0].SSID != "HomeNet" {
		t.Errorf("input slice reordered: networks[0] = %q", networks[0].SSID)
	}
}

func TestRankNetworksFiltersNonMatches(t *testing.T) {
	ranked := rankNetworks(scanResults(), "home", util.MakeSlab(100*1024, 2048))

	if len(ranked) != 2 {
		t.Fatalf("ranked %d networks, want 2: %+v", len(ranked), ranked)
	}
	for _, network := range ranked {
		if network.SSID != "HomeNet" && network.SSID != "HomeNet 5G" {
			t.Errorf("unexpected match %q for query \"home\"", network.SSID)
		}
	}
}

func TestRankNetworksCaseInsensitive(t *testing.T) {
	ranked := rankNetworks(scanResults(), "COFFEE", util.MakeSlab(100*1024, 2048))

	if len(ranked) != 1 || ranked[0].SSID != "CoffeeHouse Guest" {
		t.Fatalf("ranked = %+v, want only CoffeeHouse Guest", ranked)
	}
}

func TestRankNetworksNoMatches(t *testing.T) {
	if ranked := rankNetworks(scanResults(), "zzzzzz", util.MakeSlab(100*1024, 2048)); len(ranked) != 0 {
		t.Fatalf("ranked = %+v, want none", ranked)
	}
}

func TestSignalBars(t *testing.T) {
	tests := []struct {
		signal int
		want   string
	}{
		{0, "    "},
		{10, "▂   "},
		{25, "▂▂  "},
		{49, "▂▂  "},
		{50, "▂▂▂ "},
		{74, "▂▂▂ "},
		{75, "▂▂▂▂"},
		{100, "▂▂▂▂"},
	}
	for _, tt := range tests {
		if got := signalBars(tt.signal); got != tt.want {
			t.Errorf("signalBars(%d) = %q, want %q", tt.signal, got, tt.want)
		}
	}
}

func TestPickerModelSelection(t *testing.T) {
	model := newPickerModel(scanResults())
	if len(model.ranked) != 4 {
		t.Fatalf("initial ranking has %d networks, want 4", len(model.ranked))
	}
	// Strongest network is preselected at the top.
	if model.ranked[model.cursor].SSID != "CoffeeHouse Guest" {
		t.Errorf("cursor on %q, want CoffeeHouse Guest", model.ranked[model.cursor].SSID)
	}
}
