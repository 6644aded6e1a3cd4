// Package workflow owns the job queue and drives each job through the
// two-pass pipeline.
//
// A Manager admits one job at a time in strict FIFO order and runs it on a
// single worker goroutine. Progress snapshots arrive from the poller through
// Observe, where ownership of the server's current batch is classified and
// cancellations are reconciled once the server reports idle. State lives
// behind one mutex; gateway calls and event publishing always happen after
// the lock is released, using copies.
package workflow
