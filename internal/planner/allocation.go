package planner

// ForceSerialDecode drops per-worker concurrency to 1. Used when the source
// composition contains assets whose decoder is not safe to run on multiple
// goroutines at once.
func (a *Allocation) ForceSerialDecode() {
	a.Concurrency = 1
}

// CapWorkers lowers the worker count to at most n. Raising the count after
// planning is never allowed; calls with n above the current count are no-ops.
func (a *Allocation) CapWorkers(n int) {
	if n < 1 {
		n = 1
	}
	if n >= a.WorkerCount {
		return
	}
	a.WorkerCount = n
	if a.WorkerCount < 2 {
		a.UseParallel = false
	}
}
