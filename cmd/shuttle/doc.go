// Command shuttle is the control CLI for the export daemon: it starts and
// cancels exports, inspects session history, and manages configuration over
// the daemon's unix socket.
package main
