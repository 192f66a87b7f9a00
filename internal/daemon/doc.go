// Package daemon owns the long-running export process: the single-instance
// lock, the session journal, the supervised worker pool, and the export
// coordinator. The IPC layer delegates every control operation here.
package daemon
