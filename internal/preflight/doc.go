// Package preflight provides readiness checks for the generation server and
// the filesystem paths finisher depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failure so a
//     misconfigured server URL shows up before the first job is queued.
//   - The CLI "finisher status" command uses the same checks to display
//     health when the daemon is not running.
package preflight
