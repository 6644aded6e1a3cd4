// Package config loads, normalizes, and validates finisher configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the FINISHER_SERVER_URL
// environment override. The Config type centralizes every knob the daemon and
// CLI need: the generation server address and timeouts, default processing
// parameters, poller cadence, and queue limits.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
