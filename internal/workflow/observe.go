package workflow

import (
	"finisher/internal/logging"
	"finisher/internal/ownership"
	"finisher/internal/poller"
	"finisher/internal/queue"
	"finisher/internal/services/a1111"
)

// Mode reports the polling mode for the active job.
func (m *Manager) Mode() poller.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[m.activeID]
	if !ok {
		return poller.ModeIdle
	}
	switch job.Status {
	case queue.StatusRunningPass1:
		return poller.ModePassOne
	case queue.StatusRunningPass2:
		return poller.ModePassTwo
	case queue.StatusCancelling:
		return poller.ModeCancelling
	default:
		return poller.ModeIdle
	}
}

// Observe consumes a progress snapshot from the poller.
func (m *Manager) Observe(snapshot a1111.ProgressSnapshot) {
	m.mu.Lock()
	prevDecision := m.lastDecision
	prevProgress := m.latest.Progress
	m.latest = snapshot
	m.hasLatest = true

	job, active := m.jobs[m.activeID]
	in := ownership.Input{
		Progress:        snapshot.Progress,
		ServerTimestamp: snapshot.ServerTimestamp,
		Tolerance:       m.tolerance,
	}
	var status queue.Status
	if active {
		status = job.Status
		in.Active = true
		in.Submitted = job.SubmittedAt()
		in.Stage = ownership.StagePass1
		if status == queue.StatusRunningPass2 || (status == queue.StatusCancelling && !job.Pass2SubmittedAt.IsZero()) {
			in.Stage = ownership.StagePass2
		}
	}
	decision := ownership.Classify(in)
	m.lastDecision = decision

	fetched := snapshot.FetchedAt
	if fetched.IsZero() {
		fetched = m.now()
	}
	var (
		jobID     string
		progress  bool
		logIt     bool
		confirmed bool
		remote    bool
		cp        queue.Job
	)
	if active {
		jobID = job.ID
		// Idle only confirms a cancel once the interrupt was accepted and the
		// reading was taken afterwards.
		confirmed = status == queue.StatusCancelling && snapshot.Idle() &&
			!job.InterruptAckedAt.IsZero() && !fetched.Before(job.InterruptAckedAt)
		if status.IsRunning() && snapshot.Interrupted && !job.InterruptedRemotely &&
			(decision.Ours() || (snapshot.Idle() && ownership.Matches(snapshot.ServerTimestamp, job.SubmittedAt(), m.tolerance))) {
			job.InterruptedRemotely = true
			remote = true
		}
		if decision.Ours() && status.IsRunning() {
			job.Progress = snapshot.Progress
			job.ETA = snapshot.ETA
			progress = true
			logIt = m.sampler.ShouldLog(snapshot.Progress*100, passLabel(in.Stage))
			cp = job.Clone()
		}
	}
	state := m.stateLocked()
	m.mu.Unlock()

	m.metrics.Ownership(string(decision))

	if confirmed {
		m.reconcileCancelled(jobID, "")
		return
	}
	if remote {
		logging.WarnWithContext(m.logger, "job interrupted on the server", "job_interrupted_remotely",
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldPass, passLabel(in.Stage)),
			logging.Float64("progress", snapshot.Progress),
			logging.String(logging.FieldImpact, "pass 2 is skipped and the job is marked failed"),
			logging.String(logging.FieldErrorHint, "another client sent an interrupt to the shared server"),
		)
	} else if active && snapshot.Idle() && status.IsRunning() {
		m.logger.Debug("server idle while running",
			logging.String(logging.FieldEventType, "server_idle_while_running"),
			logging.String(logging.FieldJobID, jobID),
			logging.String("status", string(status)),
		)
	}

	if decision != prevDecision && decision == ownership.External {
		m.logger.Info("external activity on server",
			logging.String(logging.FieldEventType, "external_activity"),
			logging.Float64("progress", snapshot.Progress),
			logging.Bool("local_job_active", active),
		)
	}

	if logIt {
		m.logger.Info("job progress",
			logging.String(logging.FieldEventType, "job_progress"),
			logging.String(logging.FieldJobID, jobID),
			logging.String(logging.FieldPass, passLabel(in.Stage)),
			logging.Float64("percent", snapshot.Progress*100),
			logging.Duration("eta", snapshot.ETA),
		)
	}

	message := ""
	if snapshot.Interrupted {
		message = "interrupted"
	}
	switch {
	case progress:
		m.publish(EventJobProgress, &cp, state, message)
	case decision != prevDecision || snapshot.Progress != prevProgress:
		m.publish(EventProgress, nil, state, message)
	}
}

const remoteInterruptReason = "interrupted on the server by another client"

func passLabel(stage ownership.Stage) string {
	if stage == ownership.StagePass2 {
		return "pass2"
	}
	return "pass1"
}
