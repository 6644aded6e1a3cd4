// Package a1111 talks to an Automatic1111-compatible generation server.
//
// The Client wraps the handful of /sdapi/v1 endpoints the controller needs:
// the two processing passes, progress polling, interrupt, and option
// discovery. Every call carries its own timeout drawn from Config and is never
// retried here; callers decide what a failure means. Errors are tagged with
// services.ErrTransport when the server could not be reached and
// services.ErrServer when it answered with a non-success status or an
// unreadable body.
package a1111
