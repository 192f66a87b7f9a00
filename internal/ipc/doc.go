// Package ipc carries daemon control over JSON-RPC on a Unix domain socket:
// typed request/response structs, a server bound to the daemon, and a thin
// method-per-call client used by the CLI.
package ipc
