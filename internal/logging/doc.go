// Package logging builds the slog loggers used across shuttle. It provides a
// console handler for interactive use, a JSON handler for machine ingestion,
// attribute helpers so call sites stay terse, and standardized field names so
// session and chunk identifiers are greppable across components.
package logging
