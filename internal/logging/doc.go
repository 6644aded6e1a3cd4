// Package logging assembles structured slog loggers and formatting helpers used
// across finisher components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so controller and pipeline code
// can tag log lines with job IDs, passes, and correlation IDs. The StreamHub
// keeps a bounded, sequenced copy of recent records for the daemon's log
// follow endpoint.
package logging
