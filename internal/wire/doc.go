// Package wire defines the line-delimited JSON protocol between the daemon's
// worker pool and shuttle-worker processes. Requests travel on the worker's
// stdin and messages come back on its stdout, one JSON document per line.
// The type fields form a closed set; both sides reject anything else.
package wire
