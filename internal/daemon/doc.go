// Package daemon coordinates the long-running finisher process.
//
// It wires configuration, the workflow manager, the status poller, the option
// catalog, and the history archive into a single lifecycle with flock-based
// locking to prevent multiple instances. The daemon exposes the operations the
// IPC and HTTP layers call, refreshes option discovery at startup, prunes the
// history archive, and serves the optional HTTP status API with Prometheus
// metrics.
//
// Keep orchestration logic here: queue semantics live in workflow, server
// calls in services/a1111, while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
