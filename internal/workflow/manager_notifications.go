package workflow

import (
	"context"
	"errors"
	"time"

	"finisher/internal/logging"
	"finisher/internal/notifications"
	"finisher/internal/queue"
)

func (m *Manager) notifyTerminal(ctx context.Context, job queue.Job) {
	if m.notifier == nil {
		return
	}
	var (
		event   notifications.Event
		payload notifications.Payload
	)
	switch job.Status {
	case queue.StatusCompleted:
		event = notifications.EventJobCompleted
		payload = notifications.Payload{
			"jobID":       job.ID,
			"description": job.Description,
			"duration":    job.Duration(),
		}
	case queue.StatusFailed:
		event = notifications.EventJobFailed
		stage := ""
		if !job.Pass2SubmittedAt.IsZero() {
			stage = "pass 2"
		} else if !job.Pass1SubmittedAt.IsZero() {
			stage = "pass 1"
		}
		payload = notifications.Payload{
			"jobID":       job.ID,
			"description": job.Description,
			"stage":       stage,
			"error":       job.ErrorMessage,
		}
	default:
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send job notification")
		} else {
			m.logger.Debug("job notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) notifyDrained(ctx context.Context, counts drainCounts, elapsed time.Duration) {
	m.logger.Info("queue drained",
		logging.String(logging.FieldEventType, "queue_drained"),
		logging.Int("completed", counts.completed),
		logging.Int("failed", counts.failed),
		logging.Int("cancelled", counts.cancelled),
		logging.Duration("elapsed", elapsed),
	)
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, notifications.EventQueueDrained, notifications.Payload{
		"completed": counts.completed,
		"failed":    counts.failed,
		"cancelled": counts.cancelled,
		"duration":  elapsed,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send queue drained notification")
		} else {
			m.logger.Debug("queue drained notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) archiveJob(ctx context.Context, job queue.Job) {
	if m.archive == nil {
		return
	}
	if err := m.archive.Record(ctx, job); err != nil {
		logging.WarnWithContext(m.logger, "job archive failed", "history_record_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job will be missing from 'finisher history'"),
			logging.String(logging.FieldErrorHint, "check history.path is writable"),
		)
	}
}
