// Package history archives terminal jobs in SQLite.
//
// The archive is write-mostly: the workflow Manager appends a row when a job
// completes, fails, or is cancelled, and the CLI and HTTP API read it back.
// Rows are never turned back into queued work. Old rows are pruned by
// retention age.
//
// The schema version lives in SQLite's user_version; older archives are
// migrated forward on open.
package history
