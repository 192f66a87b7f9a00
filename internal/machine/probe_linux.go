//go:build linux

package machine

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const bytesPerGB = 1024 * 1024 * 1024

func probe() (rawStats, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return rawStats{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	raw := rawStats{
		cpuCores: runtime.NumCPU(),
		totalGB:  float64(uint64(info.Totalram)*unit) / bytesPerGB,
	}

	// MemAvailable accounts for reclaimable cache; sysinfo free memory does
	// not. Prefer it, fall back to the sysinfo reading.
	if availableKB, err := meminfoValueKB("MemAvailable"); err == nil {
		raw.availableGB = float64(availableKB) * 1024 / bytesPerGB
	} else {
		raw.availableGB = float64(uint64(info.Freeram)*unit) / bytesPerGB
	}
	return raw, nil
}

func sample() (Snapshot, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Snapshot{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	snap := Snapshot{
		TotalMB: float64(uint64(info.Totalram)*unit) / (1024 * 1024),
	}
	if availableKB, err := meminfoValueKB("MemAvailable"); err == nil {
		snap.FreeMB = float64(availableKB) / 1024
	} else {
		snap.FreeMB = float64(uint64(info.Freeram)*unit) / (1024 * 1024)
	}

	rss, err := selfRSSBytes()
	if err != nil {
		return snap, err
	}
	snap.RSSMB = float64(rss) / (1024 * 1024)
	return snap, nil
}

func meminfoValueKB(field string) (uint64, error) {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	prefix := field + ":"
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		parts := strings.Fields(strings.TrimPrefix(line, prefix))
		if len(parts) == 0 {
			break
		}
		return strconv.ParseUint(parts[0], 10, 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("field %s not found in /proc/meminfo", field)
}

func selfRSSBytes() (uint64, error) {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("unexpected statm contents %q", string(data))
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse statm rss: %w", err)
	}
	return pages * uint64(os.Getpagesize()), nil
}
