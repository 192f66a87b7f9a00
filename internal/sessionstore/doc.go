// Package sessionstore persists export sessions in SQLite so the daemon can
// answer status queries across restarts and reclaim sessions orphaned by a
// crash. The store is a journal, not the source of truth: the coordinator's
// in-memory state drives the export, and the store records it.
package sessionstore
