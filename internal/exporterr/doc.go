// Package exporterr defines the export failure taxonomy shared by the
// coordinator, the worker pool, and the CLI. Errors are tagged with sentinel
// markers so callers can classify failures with errors.Is without parsing
// message text.
package exporterr
