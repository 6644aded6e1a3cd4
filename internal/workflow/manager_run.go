package workflow

import (
	"context"
	"errors"
	"time"

	"finisher/internal/logging"
	"finisher/internal/pipeline"
	"finisher/internal/queue"
	"finisher/internal/services"
)

func (m *Manager) runWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
		for {
			if ctx.Err() != nil {
				return
			}
			task, ok := m.admitNext()
			if !ok {
				break
			}
			m.runJob(ctx, task)
		}
	}
}

// admitNext pops the FIFO head and marks it running when the slot is free.
func (m *Manager) admitNext() (pipeline.Task, bool) {
	m.mu.Lock()
	if m.paused || m.activeID != "" {
		m.mu.Unlock()
		return pipeline.Task{}, false
	}
	var job *queue.Job
	for {
		id, ok := m.pending.Pop()
		if !ok {
			m.mu.Unlock()
			return pipeline.Task{}, false
		}
		if candidate, exists := m.jobs[id]; exists && candidate.Status == queue.StatusQueued {
			job = candidate
			break
		}
	}
	now := m.now()
	if err := job.Transition(queue.StatusRunningPass1, now); err != nil {
		m.mu.Unlock()
		m.logger.Error("job admission failed", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return pipeline.Task{}, false
	}
	m.activeID = job.ID
	m.sampler.Reset()
	if !m.queueActive {
		m.queueActive = true
		m.queueStart = now
		m.drain = drainCounts{}
	}
	task := pipeline.Task{JobID: job.ID, Image: job.Image, Config: job.Config}
	cp := job.Clone()
	state := m.stateLocked()
	m.mu.Unlock()

	m.logger.Info("job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String(logging.FieldJobID, cp.ID),
		logging.String("upscaler", cp.Config.Upscaler),
		logging.Int("pending", len(state.Pending)),
	)
	m.publish(EventJobStarted, &cp, state, "")
	m.metrics.QueueDepth(len(state.Pending), true)
	return task, true
}

func (m *Manager) runJob(ctx context.Context, task pipeline.Task) {
	hooks := pipeline.Hooks{
		SubmittedPass1: func(at time.Time) { m.recordSubmission(task.JobID, 1, at) },
		SubmittedPass2: func(at time.Time) { m.recordSubmission(task.JobID, 2, at) },
		Cancelled:      func() bool { return m.cancelRequested(task.JobID) },
		EnterPassTwo:   func() error { return m.enterPassTwo(task.JobID) },
	}
	result, err := m.pipeline.Run(ctx, task, hooks)
	m.finishJob(ctx, task.JobID, result, err)
}

func (m *Manager) recordSubmission(id string, pass int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	if pass == 1 {
		job.Pass1SubmittedAt = at
	} else {
		job.Pass2SubmittedAt = at
	}
}

func (m *Manager) cancelRequested(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return !ok || job.InterruptedRemotely || job.Status == queue.StatusCancelling || job.Status.IsTerminal()
}

// enterPassTwo performs running_pass1 -> running_pass2 under the lock.
func (m *Manager) enterPassTwo(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != queue.StatusRunningPass1 {
		m.mu.Unlock()
		return pipeline.ErrCancelled
	}
	now := m.now()
	if err := job.Transition(queue.StatusRunningPass2, now); err != nil {
		m.mu.Unlock()
		return err
	}
	job.Progress = 0
	job.ETA = 0
	elapsed := now.Sub(job.Pass1SubmittedAt)
	cp := job.Clone()
	state := m.stateLocked()
	m.mu.Unlock()

	m.metrics.PassCompleted("pass1", elapsed)
	m.publish(EventJobPass, &cp, state, "pass 2")
	return nil
}

func (m *Manager) finishJob(ctx context.Context, id string, result pipeline.Result, runErr error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if len(result.Substitutions) > 0 {
		job.Substitutions = append([]pipeline.Substitution(nil), result.Substitutions...)
	}
	if job.Status == queue.StatusCancelling || job.Status.IsTerminal() {
		// Cancellation owns the outcome; reconciliation settles the job.
		status := job.Status
		m.mu.Unlock()
		m.logger.Info("pipeline result discarded",
			logging.String(logging.FieldEventType, "result_discarded"),
			logging.String(logging.FieldJobID, id),
			logging.String("status", string(status)),
			logging.Bool("pipeline_error", runErr != nil),
		)
		if status == queue.StatusCancelling && m.poller != nil {
			m.poller.Trigger()
		}
		return
	}

	now := m.now()
	var transitionErr error
	switch {
	case job.InterruptedRemotely:
		// Whatever the pass returned is partial output.
		runErr = services.Wrap(services.ErrServer, "pipeline", "observe", remoteInterruptReason, nil)
		transitionErr = job.Fail(services.KindInterrupted, remoteInterruptReason, now)
	case runErr == nil:
		if elapsed := now.Sub(job.Pass2SubmittedAt); !job.Pass2SubmittedAt.IsZero() {
			m.metrics.PassCompleted("pass2", elapsed)
		}
		transitionErr = job.Transition(queue.StatusCompleted, now)
	case errors.Is(runErr, pipeline.ErrCancelled):
		if transitionErr = job.Transition(queue.StatusCancelling, now); transitionErr == nil {
			transitionErr = job.Transition(queue.StatusCancelled, now)
		}
	case ctx.Err() != nil:
		transitionErr = job.Fail(services.KindCancelled, "daemon shutting down: "+runErr.Error(), now)
	default:
		transitionErr = job.Fail(services.Kind(runErr), runErr.Error(), now)
	}
	if transitionErr != nil {
		m.mu.Unlock()
		m.logger.Error("job completion transition failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(transitionErr),
		)
		m.setLastError(transitionErr)
		return
	}
	effect := m.settleLocked(job)
	m.mu.Unlock()

	if runErr != nil && !errors.Is(runErr, pipeline.ErrCancelled) {
		logging.ErrorWithContext(m.logger, "job failed", "job_failed",
			logging.String(logging.FieldJobID, id),
			logging.String("error_kind", effect.job.ErrorKind),
			logging.Error(runErr),
			logging.String(logging.FieldImpact, "job will not produce an output; the queue continues"),
			logging.String(logging.FieldErrorHint, failureHint(runErr)),
		)
		m.setLastError(runErr)
	}
	m.afterTerminal(effect)
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrTransport):
		return "check that the generation server is running and reachable"
	case errors.Is(err, services.ErrServer):
		return "inspect the generation server console for the failing request"
	case errors.Is(err, services.ErrValidation):
		return "adjust the job options or run 'finisher options --refresh'"
	default:
		return "see the daemon log for details"
	}
}

// terminalEffect carries copies needed for side effects after unlocking.
type terminalEffect struct {
	job     queue.Job
	state   queue.State
	drained bool
	counts  drainCounts
	elapsed time.Duration
}

// settleLocked frees the active slot for a job that just became terminal and
// updates drain accounting. Caller holds m.mu.
func (m *Manager) settleLocked(job *queue.Job) terminalEffect {
	if m.activeID == job.ID {
		m.activeID = ""
		if m.cancelTimer != nil {
			m.cancelTimer.Stop()
			m.cancelTimer = nil
		}
	}
	if m.queueActive {
		switch job.Status {
		case queue.StatusCompleted:
			m.drain.completed++
		case queue.StatusFailed:
			m.drain.failed++
		case queue.StatusCancelled:
			m.drain.cancelled++
		}
	}
	effect := terminalEffect{job: job.Clone()}
	if m.queueActive && m.activeID == "" && m.pending.Len() == 0 {
		effect.drained = true
		effect.counts = m.drain
		effect.elapsed = m.now().Sub(m.queueStart)
		m.queueActive = false
	}
	m.pruneLocked()
	effect.state = m.stateLocked()
	return effect
}

func (m *Manager) afterTerminal(effect terminalEffect) {
	job := effect.job
	kind := EventJobFailed
	switch job.Status {
	case queue.StatusCompleted:
		kind = EventJobCompleted
		m.logger.Info("job completed",
			logging.String(logging.FieldEventType, "job_completed"),
			logging.String(logging.FieldJobID, job.ID),
			logging.Duration("duration", job.Duration()),
			logging.Int("substitutions", len(job.Substitutions)),
		)
	case queue.StatusCancelled:
		kind = EventJobCancelled
		m.logger.Info("job cancelled",
			logging.String(logging.FieldEventType, "job_cancelled"),
			logging.String(logging.FieldJobID, job.ID),
			logging.String("reason", job.ErrorMessage),
		)
	}
	m.publish(kind, &job, effect.state, job.ErrorMessage)
	m.metrics.JobFinished(string(job.Status))
	m.metrics.QueueDepth(len(effect.state.Pending), effect.state.ActiveID != "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.archiveJob(ctx, job)
	m.notifyTerminal(ctx, job)
	if effect.drained {
		m.notifyDrained(ctx, effect.counts, effect.elapsed)
	}
	m.signal()
}
