// Package machine inspects the host the export runs on: CPU core count,
// total and available memory, and GPU availability. OS-reported available
// memory systematically under-reports on some platforms because of disk
// cache accounting, so the profiler floors it with a reserve-based estimate
// before anyone plans against it. The package also samples per-process
// memory snapshots for the adaptive concurrency loop inside render workers.
package machine
