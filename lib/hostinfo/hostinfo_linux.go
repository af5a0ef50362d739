// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package hostinfo

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	procStatPath    = "/proc/stat"
	procLoadavgPath = "/proc/loadavg"
	thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"
)

// CPUReading captures cumulative CPU time from /proc/stat for delta
// computation. The first line aggregates all CPUs:
//
//	cpu  user nice system idle iowait irq softirq steal guest guest_nice
//
// busy = user + nice + system + irq + softirq + steal
// idle = idle + iowait
//
// guest and guest_nice are already folded into user/nice by the kernel.
type CPUReading struct {
	Busy uint64
	Idle uint64
}

// ReadCPUStats parses the first line of /proc/stat. Returns nil on any
// parse failure; the caller treats nil as "no reading, report 0%".
func ReadCPUStats() *CPUReading {
	return readCPUStatsFrom(procStatPath)
}

func readCPUStatsFrom(path string) *CPUReading {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return nil
	}

	fields := strings.Fields(scanner.Text())
	if len(fields) < 9 || fields[0] != "cpu" {
		return nil
	}

	values := make([]uint64, len(fields)-1)
	for i := 1; i < len(fields); i++ {
		parsed, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return nil
		}
		values[i-1] = parsed
	}

	// 0=user, 1=nice, 2=system, 3=idle, 4=iowait, 5=irq, 6=softirq, 7=steal
	busy := values[0] + values[1] + values[2] + values[5] + values[6] + values[7]
	idle := values[3] + values[4]

	return &CPUReading{Busy: busy, Idle: idle}
}

// CPUPercent computes utilization from two sequential readings. Returns
// 0 if either reading is nil or no time has passed.
func CPUPercent(previous, current *CPUReading) float64 {
	if previous == nil || current == nil {
		return 0
	}
	busyDelta := current.Busy - previous.Busy
	idleDelta := current.Idle - previous.Idle
	totalDelta := busyDelta + idleDelta
	if totalDelta == 0 {
		return 0
	}
	return float64(busyDelta) / float64(totalDelta) * 100
}

// ReadLoad1 returns the one-minute load average from /proc/loadavg, or
// 0 if unreadable.
func ReadLoad1() float64 {
	return readLoad1From(procLoadavgPath)
}

func readLoad1From(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return load
}

// ReadSoCTemp returns the SoC temperature in degrees Celsius from the
// first thermal zone, or 0 if no zone is readable. The kernel reports
// millidegrees.
func ReadSoCTemp() float64 {
	return readSoCTempFrom(thermalZonePath)
}

func readSoCTempFrom(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return float64(milli) / 1000
}

// Memory returns used and total physical memory in megabytes, 0/0 if
// the syscall fails. Integer megabytes keep heartbeat payloads free of
// float noise.
func Memory() (usedMB, totalMB int) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0
	}
	unit := uint64(info.Unit)
	totalBytes := uint64(info.Totalram) * unit
	freeBytes := uint64(info.Freeram) * unit
	if totalBytes < freeBytes {
		return 0, 0
	}
	return int((totalBytes - freeBytes) / (1024 * 1024)), int(totalBytes / (1024 * 1024))
}

// Uptime returns seconds since boot, 0 if the syscall fails.
func Uptime() int64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return int64(info.Uptime)
}

// Disk returns free and total megabytes of the filesystem containing
// path, 0/0 on failure. Free is the space available to unprivileged
// writers (Bavail), matching what the spool and journal can actually
// use.
func Disk(path string) (freeMB, totalMB int) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0
	}
	blockSize := uint64(stat.Bsize)
	free := uint64(stat.Bavail) * blockSize
	total := uint64(stat.Blocks) * blockSize
	return int(free / (1024 * 1024)), int(total / (1024 * 1024))
}

// Collector produces Metrics snapshots. It keeps the previous CPU
// reading so consecutive Collect calls yield a utilization delta.
type Collector struct {
	// DiskPath is the filesystem measured for disk headroom, normally
	// the state directory.
	DiskPath string

	mu       sync.Mutex
	previous *CPUReading
}

// NewCollector returns a Collector measuring disk space at diskPath.
func NewCollector(diskPath string) *Collector {
	return &Collector{DiskPath: diskPath}
}

// Collect returns a snapshot. Never fails; unavailable sources read as
// zero.
func (c *Collector) Collect() Metrics {
	var m Metrics

	c.mu.Lock()
	current := ReadCPUStats()
	m.CPUPercent = CPUPercent(c.previous, current)
	if current != nil {
		c.previous = current
	}
	c.mu.Unlock()

	m.MemoryUsedMB, m.MemoryTotalMB = Memory()
	m.DiskFreeMB, m.DiskTotalMB = Disk(c.DiskPath)
	m.Load1 = ReadLoad1()
	m.SoCTempC = ReadSoCTemp()
	m.UptimeSeconds = Uptime()

	return m
}
