// Package daemon assembles the long-running process: single-instance
// locking, startup recovery, the pipeline coordinator, the HTTP API and
// the event stream, plus a periodic sweep of stale temp directories.
package daemon
