// Package config loads, normalizes, and validates Conveyor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// daemon and CLI need: the data root that holds per-job staging directories,
// the concurrency cap for the pipeline coordinator, and the stage processor
// commands job plans may reference.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
