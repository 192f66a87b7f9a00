// Package workerpool spawns and supervises shuttle-worker processes. Each
// worker speaks the wire protocol over its stdin/stdout; the pool correlates
// results to requests by id, watches heartbeats for staleness, restarts
// crashed workers a bounded number of times, and escalates shutdown from a
// cooperative cancel through SIGTERM to SIGKILL.
package workerpool
