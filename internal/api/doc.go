// Package api defines wire-format types and converters shared by the IPC and
// HTTP layers. It translates workflow, queue, and history models into
// transport-friendly DTOs that the CLI and other consumers can render without
// importing internal types.
//
// DTOs use camelCase JSON tags. Statuses and ownership decisions are exposed
// as lowercase strings and timestamps as RFC3339 with milliseconds. Job DTOs
// never carry image payloads.
package api
