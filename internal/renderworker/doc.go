// Package renderworker implements the worker side of the export protocol:
// it renders the chunks of an assigned job in ascending index order through
// the external renderer, tuning its internal concurrency between chunks from
// memory pressure readings, and either combines its outputs locally or
// reports the chunk files back for central combining.
package renderworker
