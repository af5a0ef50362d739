// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package wifi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSplitTerse(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"MyHome:87:WPA2", []string{"MyHome", "87", "WPA2"}},
		{`Cafe\: Le Wifi:54:WPA1 WPA2`, []string{"Cafe: Le Wifi", "54", "WPA1 WPA2"}},
		{`back\\slash:10:`, []string{`back\slash`, "10", ""}},
		{":45:WPA2", []string{"", "45", "WPA2"}},
		{"plain", []string{"plain"}},
		{"", []string{""}},
	}
	for _, test := range tests {
		got := splitTerse(test.line)
		if len(got) != len(test.want) {
			t.Errorf("splitTerse(%q) = %v, want %v", test.line, got, test.want)
			continue
		}
		for i := range got {
			if got[i] != test.want[i] {
				t.Errorf("splitTerse(%q)[%d] = %q, want %q", test.line, i, got[i], test.want[i])
			}
		}
	}
}

func TestParseScanOutput(t *testing.T) {
	output := strings.Join([]string{
		"MyHome:61:WPA2",
		"Cafe:88:WPA1 WPA2",
		"MyHome:87:WPA2", // second AP, stronger
		":45:WPA2",       // hidden
		"open-net:31:",
		"bad-signal:xx:WPA2",
		"",
	}, "\n")

	networks := parseScanOutput(output)
	if len(networks) != 3 {
		t.Fatalf("got %d networks (%v), want 3", len(networks), networks)
	}
	if networks[0].SSID != "Cafe" || networks[0].Signal != 88 {
		t.Errorf("networks[0] = %+v, want Cafe at 88", networks[0])
	}
	if networks[1].SSID != "MyHome" || networks[1].Signal != 87 {
		t.Errorf("networks[1] = %+v, want MyHome collapsed to 87", networks[1])
	}
	if networks[2].SSID != "open-net" || networks[2].Security != "" {
		t.Errorf("networks[2] = %+v, want open-net with empty security", networks[2])
	}
}

func TestParseScanOutputEscapedSSID(t *testing.T) {
	networks := parseScanOutput(`Cafe\: Le Wifi:54:WPA2` + "\n")
	if len(networks) != 1 {
		t.Fatalf("got %d networks, want 1", len(networks))
	}
	if networks[0].SSID != "Cafe: Le Wifi" {
		t.Errorf("SSID = %q, want unescaped colon", networks[0].SSID)
	}
}

func TestParseActiveConnections(t *testing.T) {
	output := strings.Join([]string{
		"Wired connection 1:802-3-ethernet:eth0",
		"MyHome:802-11-wireless:wlan0",
		"lo:loopback:lo",
		"",
	}, "\n")

	status := parseActiveConnections(output)
	if !status.Connected {
		t.Fatal("Connected = false, want true")
	}
	if status.Name != "MyHome" || status.Device != "wlan0" {
		t.Errorf("status = %+v, want MyHome on wlan0", status)
	}
}

func TestParseActiveConnectionsNoWireless(t *testing.T) {
	status := parseActiveConnections("Wired connection 1:802-3-ethernet:eth0\n")
	if status.Connected {
		t.Errorf("Connected = true for ethernet-only output: %+v", status)
	}
}

// fakeRunner records invocations and plays back scripted results.
type fakeRunner struct {
	calls   [][]string
	results []fakeResult
}

type fakeResult struct {
	output string
	err    error
}

func (f *fakeRunner) run(ctx context.Context, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if len(f.results) == 0 {
		return "", nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result.output, result.err
}

func testManager(runner *fakeRunner) *Manager {
	manager := NewManager(Config{
		ConnectAttempts:   3,
		ConnectRetryDelay: time.Millisecond,
		ProbeInterval:     time.Millisecond,
	})
	manager.run = runner.run
	return manager
}

func TestConnectRetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{err: errors.New("nmcli device wifi connect: exit status 10 (Error: Connection activation failed)")},
		{err: errors.New("nmcli device wifi connect: exit status 10 (Error: Connection activation failed)")},
		{output: "Device 'wlan0' successfully activated"},
	}}
	manager := testManager(runner)

	if err := manager.Connect(context.Background(), "MyHome", "hunter22"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("nmcli ran %d times, want 3", len(runner.calls))
	}
	want := []string{"device", "wifi", "connect", "MyHome", "password", "hunter22"}
	got := runner.calls[0]
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestConnectOpenNetworkOmitsPassword(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{output: "activated"}}}
	manager := testManager(runner)

	if err := manager.Connect(context.Background(), "open-net", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	args := runner.calls[0]
	for _, arg := range args {
		if arg == "password" {
			t.Errorf("password flag present for open network: %v", args)
		}
	}
}

func TestConnectWrongPassphraseStopsRetrying(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{
		{err: errors.New("nmcli device wifi connect: exit status 1 (Error: Secrets were required, but not provided)")},
	}}
	manager := testManager(runner)

	err := manager.Connect(context.Background(), "MyHome", "wrong")
	if err == nil {
		t.Fatal("Connect with bad passphrase succeeded, want error")
	}
	if !strings.Contains(err.Error(), "wrong passphrase") {
		t.Errorf("error = %q, want wrong passphrase", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("nmcli ran %d times, want 1 (no retry on bad secrets)", len(runner.calls))
	}
}

func TestConnectExhaustsAttempts(t *testing.T) {
	failure := fakeResult{err: errors.New("nmcli: exit status 10 (Error: Connection activation failed)")}
	runner := &fakeRunner{results: []fakeResult{failure, failure, failure}}
	manager := testManager(runner)

	err := manager.Connect(context.Background(), "MyHome", "pw")
	if err == nil {
		t.Fatal("Connect succeeded, want exhaustion error")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error = %q, want attempt count", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("nmcli ran %d times, want 3", len(runner.calls))
	}
}

func TestConnectEmptySSID(t *testing.T) {
	manager := testManager(&fakeRunner{})
	if err := manager.Connect(context.Background(), "", "pw"); err == nil {
		t.Fatal("Connect with empty ssid succeeded, want error")
	}
}

func TestScanPassesTerseArgs(t *testing.T) {
	runner := &fakeRunner{results: []fakeResult{{output: "MyHome:87:WPA2\n"}}}
	manager := testManager(runner)

	networks, err := manager.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(networks) != 1 || networks[0].SSID != "MyHome" {
		t.Errorf("networks = %v, want MyHome", networks)
	}
	joined := strings.Join(runner.calls[0], " ")
	if !strings.Contains(joined, "-t -f SSID,SIGNAL,SECURITY") {
		t.Errorf("scan args = %q, want terse field selection", joined)
	}
	if !strings.Contains(joined, "--rescan yes") {
		t.Errorf("scan args = %q, want forced rescan", joined)
	}
}

func TestProbe(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer okServer.Close()

	manager := NewManager(Config{ProbeURL: okServer.URL})
	if err := manager.Probe(context.Background()); err != nil {
		t.Errorf("Probe against 204 server: %v", err)
	}

	portalServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>hotel login</html>")
	}))
	defer portalServer.Close()

	manager = NewManager(Config{ProbeURL: portalServer.URL})
	err := manager.Probe(context.Background())
	if err == nil {
		t.Fatal("Probe against captive portal succeeded, want error")
	}
	if !strings.Contains(err.Error(), "status 200") {
		t.Errorf("error = %q, want status mention", err)
	}
}

func TestWaitOnlineEventuallySucceeds(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	manager := NewManager(Config{ProbeURL: server.URL, ProbeInterval: time.Millisecond})
	if err := manager.WaitOnline(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("WaitOnline: %v", err)
	}
	if requests != 3 {
		t.Errorf("probe count = %d, want 3", requests)
	}
}

func TestWaitOnlineTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	manager := NewManager(Config{ProbeURL: server.URL, ProbeInterval: time.Millisecond})
	err := manager.WaitOnline(context.Background(), 10*time.Millisecond)
	if err == nil {
		t.Fatal("WaitOnline succeeded against a dead upstream, want error")
	}
	if !strings.Contains(err.Error(), "no internet connectivity") {
		t.Errorf("error = %q, want connectivity message", err)
	}
}
