// Package logs reads daemon log records for the CLI.
//
// StreamClient pages through the daemon's HTTP /api/logs endpoint. ReadLast
// and Follow read the per-run log file directly, which is the only source left
// once the daemon has exited.
package logs
