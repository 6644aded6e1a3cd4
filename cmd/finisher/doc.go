// Package main hosts the finisher CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: enqueueing images, inspecting and cancelling jobs,
// following the event stream, and controlling the daemon process itself.
// Configuration resolution and socket discovery live in commandContext so
// subcommands only deal with presentation.
package main
