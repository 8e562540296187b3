// Package preflight provides startup readiness checks for the paths and
// external commands the daemon depends on. The daemon runs them once at
// boot: fatal failures (unusable data directories) abort, advisory ones
// (low disk, unresolvable stage commands) are logged and reported by
// the status endpoint.
package preflight
