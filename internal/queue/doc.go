// Package queue models upscale jobs and the in-memory pending sequence that
// orders them.
//
// A Job moves through an explicit lifecycle (queued, running_pass1,
// running_pass2, cancelling, then one of completed, cancelled, failed) and
// Transition rejects any move the lifecycle does not allow. Pending keeps
// strict FIFO order. Nothing here locks; the workflow Manager owns the lock and
// hands callers Clone copies.
//
// Queue contents live only in memory. Terminal jobs can be archived by the
// history package but are never restored into a queue.
package queue
