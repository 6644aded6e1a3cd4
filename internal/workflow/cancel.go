package workflow

import (
	"context"
	"strings"
	"time"

	"finisher/internal/logging"
	"finisher/internal/queue"
	"finisher/internal/services"
)

const cancelTimeoutReason = "cancel confirmation timed out"

// Cancel cancels a job by id. Pending jobs are removed without contacting the
// server. The active job is interrupted. Unknown, terminal, and already
// cancelling jobs return services.ErrNotFound.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return notCancellable(id, "not found")
	}
	switch {
	case job.Status == queue.StatusQueued:
		m.pending.Remove(id)
		if err := job.Transition(queue.StatusCancelled, m.now()); err != nil {
			m.mu.Unlock()
			return err
		}
		job.ErrorMessage = "cancelled before start"
		effect := m.settleLocked(job)
		m.mu.Unlock()
		m.afterTerminal(effect)
		return nil
	case job.Status.IsRunning():
		m.mu.Unlock()
		return m.cancelActive(ctx, id)
	default:
		status := job.Status
		m.mu.Unlock()
		return notCancellable(id, "is "+string(status))
	}
}

// CancelActive cancels whichever job is currently running.
func (m *Manager) CancelActive(ctx context.Context) error {
	return m.cancelActive(ctx, "")
}

func (m *Manager) cancelActive(ctx context.Context, expectedID string) error {
	m.mu.Lock()
	id := m.activeID
	job, ok := m.jobs[id]
	if id == "" || !ok || (expectedID != "" && id != expectedID) || !job.Status.IsRunning() {
		m.mu.Unlock()
		if expectedID == "" {
			expectedID = "active job"
		}
		return notCancellable(expectedID, "is not running")
	}
	if err := job.Transition(queue.StatusCancelling, m.now()); err != nil {
		m.mu.Unlock()
		return err
	}
	cp := job.Clone()
	state := m.stateLocked()
	m.mu.Unlock()

	logging.WithContext(ctx, m.logger).Info("cancelling job",
		logging.String(logging.FieldEventType, "job_cancelling"),
		logging.String(logging.FieldJobID, id),
	)
	m.publish(EventJobCancelling, &cp, state, "")
	return m.interruptFor(ctx, id)
}

// EmergencyInterrupt interrupts the server whatever it is doing. When a local
// job was running it is reconciled like CancelActive and true is returned.
func (m *Manager) EmergencyInterrupt(ctx context.Context) (bool, error) {
	m.mu.Lock()
	id := m.activeID
	affected := false
	var cp queue.Job
	var state queue.State
	if job, ok := m.jobs[id]; ok && job.Status.IsRunning() {
		if err := job.Transition(queue.StatusCancelling, m.now()); err == nil {
			affected = true
			cp = job.Clone()
			state = m.stateLocked()
		}
	}
	m.mu.Unlock()

	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "emergency interrupt requested", "emergency_interrupt",
		logging.Bool("local_job", affected),
		logging.String(logging.FieldJobID, id),
		logging.String(logging.FieldImpact, "any generation on the shared server is stopped"),
	)
	if !affected {
		err := m.gateway.Interrupt(ctx)
		m.metrics.Interrupt(err)
		if err != nil {
			return false, services.Wrap(services.ErrInterruptFailed, "cancel", "interrupt", "", err)
		}
		if m.poller != nil {
			m.poller.Trigger()
		}
		return false, nil
	}
	m.publish(EventJobCancelling, &cp, state, "emergency interrupt")
	return true, m.interruptFor(ctx, id)
}

// interruptFor issues the interrupt for a job already marked cancelling.
func (m *Manager) interruptFor(ctx context.Context, id string) error {
	err := m.gateway.Interrupt(ctx)
	m.metrics.Interrupt(err)
	if err != nil {
		wrapped := services.Wrap(services.ErrInterruptFailed, "cancel", "interrupt", "", err)
		m.failCancelling(id, wrapped)
		return wrapped
	}

	timeout := m.cfg.CancelTimeout()
	m.mu.Lock()
	if job, ok := m.jobs[id]; ok && job.Status == queue.StatusCancelling {
		job.InterruptAckedAt = m.now()
		if m.cancelTimer != nil {
			m.cancelTimer.Stop()
		}
		m.cancelTimer = time.AfterFunc(timeout, func() {
			m.reconcileCancelled(id, cancelTimeoutReason)
		})
	}
	m.mu.Unlock()

	if m.poller != nil {
		m.poller.Trigger()
	}
	return nil
}

func (m *Manager) failCancelling(id string, cause error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != queue.StatusCancelling {
		m.mu.Unlock()
		return
	}
	if err := job.Fail(services.KindInterruptFailed, cause.Error(), m.now()); err != nil {
		m.mu.Unlock()
		m.logger.Error("interrupt failure transition failed", logging.String(logging.FieldJobID, id), logging.Error(err))
		return
	}
	effect := m.settleLocked(job)
	m.mu.Unlock()

	logging.ErrorWithContext(m.logger, "interrupt failed", "interrupt_failed",
		logging.String(logging.FieldJobID, id),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "server state is unknown; the job is marked failed"),
		logging.String(logging.FieldErrorHint, "check the generation server; it may still be processing"),
	)
	m.setLastError(cause)
	m.afterTerminal(effect)
}

// reconcileCancelled completes a cancellation. reason is recorded on the job
// when the server never confirmed idle.
func (m *Manager) reconcileCancelled(id, reason string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != queue.StatusCancelling {
		m.mu.Unlock()
		return
	}
	if err := job.Transition(queue.StatusCancelled, m.now()); err != nil {
		m.mu.Unlock()
		m.logger.Error("cancel reconciliation failed", logging.String(logging.FieldJobID, id), logging.Error(err))
		return
	}
	if reason != "" {
		job.ErrorMessage = reason
	}
	effect := m.settleLocked(job)
	m.mu.Unlock()

	if reason == cancelTimeoutReason {
		logging.WarnWithContext(m.logger, "cancel confirmation timed out", "cancel_timeout",
			logging.String(logging.FieldJobID, id),
			logging.Duration("timeout", m.cfg.CancelTimeout()),
			logging.String(logging.FieldImpact, "job marked cancelled without an idle reading"),
			logging.String(logging.FieldErrorHint, "verify the generation server stopped processing"),
		)
	}
	m.afterTerminal(effect)
}

func notCancellable(id, detail string) error {
	return services.Wrap(services.ErrNotFound, "cancel", "lookup", "job "+id+" "+detail, nil)
}
