// Package logging builds the slog loggers used across the daemon and CLI.
//
// It provides console and JSON handlers, standardized field names for job,
// stage, and correlation identifiers, and context helpers so every component
// logs the same keys for the same concepts.
package logging
