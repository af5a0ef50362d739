// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostinfo reads host metrics for heartbeat reporting: CPU
// utilization, memory, disk headroom, load average, SoC temperature,
// and uptime. Everything comes from /proc, /sys, and a couple of
// syscalls on Linux.
//
// Collection never fails. A missing sensor or unreadable file produces
// a zero value for that field — a device with a broken thermal zone
// still heartbeats. CPU percent is a delta between consecutive
// /proc/stat readings, so the first Collect after startup reports 0.
package hostinfo

// Metrics is one snapshot of host state, attached to heartbeats and
// served over the control socket.
type Metrics struct {
	// CPUPercent is aggregate CPU utilization since the previous
	// snapshot, 0-100.
	CPUPercent float64 `json:"cpu_percent"`

	// MemoryUsedMB and MemoryTotalMB describe physical memory.
	MemoryUsedMB  int `json:"memory_used_mb"`
	MemoryTotalMB int `json:"memory_total_mb"`

	// DiskFreeMB and DiskTotalMB describe the filesystem holding the
	// state directory.
	DiskFreeMB  int `json:"disk_free_mb"`
	DiskTotalMB int `json:"disk_total_mb"`

	// Load1 is the one-minute load average.
	Load1 float64 `json:"load1"`

	// SoCTempC is the SoC temperature in degrees Celsius, 0 when no
	// thermal zone is readable.
	SoCTempC float64 `json:"soc_temp_c"`

	// UptimeSeconds is seconds since boot.
	UptimeSeconds int64 `json:"uptime_seconds"`
}
