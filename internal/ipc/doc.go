// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and request/response DTOs that embed the
// api package's wire types. Errors cross the socket as strings tagged with
// their service kind; the client restores the matching services sentinel so
// callers can keep using errors.Is.
//
// Reuse these types when adding new RPC endpoints to keep the protocol stable
// and compatible with existing command implementations.
package ipc
