// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package hostinfo

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestCPUPercentDelta(t *testing.T) {
	tests := []struct {
		name     string
		previous *CPUReading
		current  *CPUReading
		expected float64
	}{
		{
			name:     "50 percent",
			previous: &CPUReading{Busy: 100, Idle: 100},
			current:  &CPUReading{Busy: 200, Idle: 200},
			expected: 50,
		},
		{
			name:     "100 percent",
			previous: &CPUReading{Busy: 100, Idle: 100},
			current:  &CPUReading{Busy: 200, Idle: 100},
			expected: 100,
		},
		{
			name:     "0 percent",
			previous: &CPUReading{Busy: 100, Idle: 100},
			current:  &CPUReading{Busy: 100, Idle: 200},
			expected: 0,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := CPUPercent(test.previous, test.current); got != test.expected {
				t.Errorf("CPUPercent() = %f, want %f", got, test.expected)
			}
		})
	}
}

func TestCPUPercentNilAndZeroDelta(t *testing.T) {
	reading := &CPUReading{Busy: 100, Idle: 100}

	if got := CPUPercent(nil, reading); got != 0 {
		t.Errorf("CPUPercent(nil, r) = %f, want 0", got)
	}
	if got := CPUPercent(reading, nil); got != 0 {
		t.Errorf("CPUPercent(r, nil) = %f, want 0", got)
	}
	if got := CPUPercent(reading, reading); got != 0 {
		t.Errorf("CPUPercent with identical readings = %f, want 0", got)
	}
}

func TestReadCPUStatsFromSyntheticFile(t *testing.T) {
	// Realistic Pi /proc/stat content, aggregate line first.
	content := "cpu  36164 1205 21345 3232941 1544 0 512 0 0 0\n" +
		"cpu0 9572 301 5407 807871 403 0 245 0 0 0\n"
	path := writeFixture(t, "stat", content)

	reading := readCPUStatsFrom(path)
	if reading == nil {
		t.Fatal("readCPUStatsFrom returned nil for valid content")
	}

	expectedBusy := uint64(36164 + 1205 + 21345 + 0 + 512 + 0)
	expectedIdle := uint64(3232941 + 1544)

	if reading.Busy != expectedBusy {
		t.Errorf("Busy = %d, want %d", reading.Busy, expectedBusy)
	}
	if reading.Idle != expectedIdle {
		t.Errorf("Idle = %d, want %d", reading.Idle, expectedIdle)
	}
}

func TestReadCPUStatsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"wrong label", "mem  123 456 789 0 0 0 0 0\n"},
		{"too few fields", "cpu  123 456\n"},
		{"non-numeric field", "cpu  123 abc 789 0 0 0 0 0\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeFixture(t, "stat", test.content)
			if reading := readCPUStatsFrom(path); reading != nil {
				t.Errorf("expected nil for malformed input, got %+v", reading)
			}
		})
	}
}

func TestReadCPUStatsMissingFile(t *testing.T) {
	if reading := readCPUStatsFrom("/nonexistent/proc/stat"); reading != nil {
		t.Errorf("expected nil for missing file, got %+v", reading)
	}
}

func TestReadLoad1(t *testing.T) {
	path := writeFixture(t, "loadavg", "0.52 0.58 0.59 1/389 20471\n")
	if got := readLoad1From(path); got != 0.52 {
		t.Errorf("readLoad1From = %f, want 0.52", got)
	}

	empty := writeFixture(t, "loadavg-empty", "")
	if got := readLoad1From(empty); got != 0 {
		t.Errorf("readLoad1From(empty) = %f, want 0", got)
	}
	if got := readLoad1From("/nonexistent/loadavg"); got != 0 {
		t.Errorf("readLoad1From(missing) = %f, want 0", got)
	}
}

func TestReadSoCTemp(t *testing.T) {
	// The kernel reports millidegrees; 48686 is 48.686 C, a typical
	// idling Pi.
	path := writeFixture(t, "temp", "48686\n")
	if got := readSoCTempFrom(path); got != 48.686 {
		t.Errorf("readSoCTempFrom = %f, want 48.686", got)
	}

	bad := writeFixture(t, "temp-bad", "warm\n")
	if got := readSoCTempFrom(bad); got != 0 {
		t.Errorf("readSoCTempFrom(non-numeric) = %f, want 0", got)
	}
	if got := readSoCTempFrom("/nonexistent/temp"); got != 0 {
		t.Errorf("readSoCTempFrom(missing) = %f, want 0", got)
	}
}

func TestMemoryLive(t *testing.T) {
	used, total := Memory()
	if used <= 0 || total <= 0 {
		t.Errorf("Memory() = %d, %d; expected positive values", used, total)
	}
	if used > total {
		t.Errorf("used %d MB exceeds total %d MB", used, total)
	}
	// Catches unit conversion bugs: no test host has 100 TB of RAM.
	if total > 100*1024*1024 {
		t.Errorf("total = %d MB, unreasonably large", total)
	}
}

func TestDiskLive(t *testing.T) {
	free, total := Disk(t.TempDir())
	if total <= 0 {
		t.Errorf("Disk total = %d, expected positive", total)
	}
	if free > total {
		t.Errorf("free %d MB exceeds total %d MB", free, total)
	}
}

func TestDiskMissingPath(t *testing.T) {
	free, total := Disk("/nonexistent/mount/point")
	if free != 0 || total != 0 {
		t.Errorf("Disk(missing) = %d, %d; want 0, 0", free, total)
	}
}

func TestUptimeLive(t *testing.T) {
	if got := Uptime(); got <= 0 {
		t.Errorf("Uptime() = %d, expected positive", got)
	}
}

func TestCollector(t *testing.T) {
	collector := NewCollector(t.TempDir())

	// First snapshot has no baseline, so CPU reads 0.
	first := collector.Collect()
	if first.CPUPercent != 0 {
		t.Errorf("first CPUPercent = %f, want 0", first.CPUPercent)
	}
	if first.MemoryTotalMB <= 0 {
		t.Errorf("MemoryTotalMB = %d, expected positive", first.MemoryTotalMB)
	}
	if first.DiskTotalMB <= 0 {
		t.Errorf("DiskTotalMB = %d, expected positive", first.DiskTotalMB)
	}
	if first.UptimeSeconds <= 0 {
		t.Errorf("UptimeSeconds = %d, expected positive", first.UptimeSeconds)
	}

	// Second snapshot has a baseline; utilization is in range.
	second := collector.Collect()
	if second.CPUPercent < 0 || second.CPUPercent > 100 {
		t.Errorf("second CPUPercent = %f, out of range", second.CPUPercent)
	}
}
