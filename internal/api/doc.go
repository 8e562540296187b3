// Package api defines the transport DTOs shared by the daemon's HTTP
// surface, the event stream, and the CLI, plus read-only services that
// project store records into them.
package api
