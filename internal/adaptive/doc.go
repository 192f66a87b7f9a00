// Package adaptive implements the per-worker render concurrency feedback
// loop: additive increase on sustained clean batches, halving on memory
// pressure, with a cooldown after each pressure event so the controller does
// not oscillate. Pressure itself is derived from memory snapshots taken
// around each rendered batch.
package adaptive
