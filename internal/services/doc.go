// Package services defines shared utilities consumed by the pipeline, the job
// controller, and the remote server integration.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, pass names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (validation, transport, server, interrupt) into stable kinds recorded on
//     job summaries.
//
// Use these helpers when wiring new integration code so error handling and
// observability stay uniform across the controller.
package services
