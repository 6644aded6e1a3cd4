package api

import (
	"time"

	"finisher/internal/catalog"
	"finisher/internal/history"
	"finisher/internal/logging"
	"finisher/internal/ownership"
	"finisher/internal/pipeline"
	"finisher/internal/queue"
	"finisher/internal/services/a1111"
	"finisher/internal/workflow"
)

// FromConfig converts a processing config.
func FromConfig(cfg pipeline.ProcessingConfig) ProcessingConfig {
	return ProcessingConfig(cfg)
}

// ToConfig converts a wire config back into the pipeline type.
func ToConfig(cfg ProcessingConfig) pipeline.ProcessingConfig {
	return pipeline.ProcessingConfig(cfg)
}

func fromSubstitutions(subs []pipeline.Substitution) []Substitution {
	if len(subs) == 0 {
		return nil
	}
	out := make([]Substitution, len(subs))
	for i, sub := range subs {
		out[i] = Substitution(sub)
	}
	return out
}

// FromJob converts a job copy. position is its FIFO index, or -1.
func FromJob(job queue.Job, position int) Job {
	dto := Job{
		ID:            job.ID,
		Kind:          string(job.Kind),
		Status:        string(job.Status),
		Description:   job.Description,
		BatchID:       job.BatchID,
		Position:      position,
		Progress:      job.Progress,
		ETASeconds:    job.ETA.Seconds(),
		ImageBytes:    job.ImageBytes,
		Config:        FromConfig(job.Config),
		Substitutions: fromSubstitutions(job.Substitutions),
		ErrorKind:     job.ErrorKind,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     formatTime(job.CreatedAt),
		StartedAt:     formatTime(job.StartedAt),
		CompletedAt:   formatTime(job.CompletedAt),
	}
	if !job.CompletedAt.IsZero() {
		dto.DurationMs = job.Duration().Milliseconds()
	}
	return dto
}

// FromState converts a queue state copy.
func FromState(state queue.State) QueueState {
	pending := state.Pending
	if pending == nil {
		pending = []string{}
	}
	return QueueState{
		Pending:      pending,
		ActiveID:     state.ActiveID,
		ActiveStatus: string(state.ActiveStatus),
		Paused:       state.Paused,
		Capacity:     state.Capacity,
	}
}

// FromSnapshot converts a progress snapshot.
func FromSnapshot(s a1111.ProgressSnapshot) Progress {
	return Progress{
		Progress:        s.Progress,
		ETASeconds:      s.ETA.Seconds(),
		ServerTimestamp: formatTime(s.ServerTimestamp),
		Interrupted:     s.Interrupted,
		Skipped:         s.Skipped,
		JobCount:        s.JobCount,
		JobNo:           s.JobNo,
		SamplingStep:    s.SamplingStep,
		SamplingSteps:   s.SamplingSteps,
		TextInfo:        s.TextInfo,
		FetchedAt:       formatTime(s.FetchedAt),
	}
}

// FromStatusSummary converts workflow status.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:   summary.Running,
		LastError: summary.LastError,
		Queue:     FromState(summary.State),
		Counts:    make(map[string]int, len(summary.Counts)),
		Ownership: decisionString(summary.Decision),
	}
	for key, value := range summary.Counts {
		status.Counts[string(key)] = value
	}
	if len(summary.Batches) > 0 {
		status.Batches = make(map[string]BatchCounts, len(summary.Batches))
		for id, counts := range summary.Batches {
			status.Batches[id] = BatchCounts(counts)
		}
	}
	if summary.HasSnapshot {
		progress := FromSnapshot(summary.Snapshot)
		status.Progress = &progress
	}
	return status
}

// FromEvent converts a workflow event.
func FromEvent(evt workflow.Event) Event {
	dto := Event{
		Sequence:  evt.Sequence,
		Timestamp: formatTime(evt.Timestamp),
		Kind:      string(evt.Kind),
		Ownership: decisionString(evt.Decision),
		Queue:     FromState(evt.State),
		Message:   evt.Message,
	}
	if evt.Job != nil {
		job := FromJob(*evt.Job, -1)
		dto.Job = &job
	}
	if evt.Snapshot != nil {
		progress := FromSnapshot(*evt.Snapshot)
		dto.Progress = &progress
	}
	return dto
}

// FromEvents converts a page of events.
func FromEvents(events []workflow.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, evt := range events {
		out = append(out, FromEvent(evt))
	}
	return out
}

// FromHistoryEntry converts an archived job.
func FromHistoryEntry(entry history.Entry) HistoryEntry {
	return HistoryEntry{
		ID:            entry.ID,
		Status:        string(entry.Status),
		Description:   entry.Description,
		BatchID:       entry.BatchID,
		Upscaler:      entry.Upscaler,
		ScaleFactor:   entry.ScaleFactor,
		FinalScale:    entry.FinalScale,
		Substitutions: fromSubstitutions(entry.Substitutions),
		ErrorKind:     entry.ErrorKind,
		ErrorMessage:  entry.ErrorMessage,
		CreatedAt:     formatTime(entry.CreatedAt),
		CompletedAt:   formatTime(entry.CompletedAt),
		DurationMs:    entry.Duration.Milliseconds(),
	}
}

// FromOptions converts a catalog snapshot.
func FromOptions(opts catalog.Options) Options {
	return Options{
		Upscalers:   nonNil(opts.Upscalers),
		Models:      nonNil(opts.Models),
		Samplers:    nonNil(opts.Samplers),
		Schedulers:  nonNil(opts.Schedulers),
		RefreshedAt: formatTime(opts.RefreshedAt),
	}
}

// FromLogEvents converts captured log records.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:      evt.Sequence,
			Timestamp:     formatTime(evt.Timestamp),
			Level:         evt.Level,
			Message:       evt.Message,
			Component:     evt.Component,
			JobID:         evt.JobID,
			Pass:          evt.Pass,
			CorrelationID: evt.CorrelationID,
			Fields:        evt.Fields,
		})
	}
	return out
}

func decisionString(d ownership.Decision) string {
	return string(d)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
