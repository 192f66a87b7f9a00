//go:build !linux

package machine

import (
	"errors"
	"runtime"
)

func probe() (rawStats, error) {
	// Memory stats are unavailable without platform support; report the core
	// count and let the caller fall back to conservative memory defaults.
	return rawStats{
		cpuCores:    runtime.NumCPU(),
		totalGB:     fallbackTotalGB,
		availableGB: fallbackAvailableGB,
	}, nil
}

func sample() (Snapshot, error) {
	return Snapshot{}, errors.New("memory sampling unsupported on this platform")
}
