package workflow

import (
	"finisher/internal/ownership"
	"finisher/internal/queue"
	"finisher/internal/services/a1111"
)

// BatchCounts tallies the jobs sharing a batch id.
type BatchCounts struct {
	Total     int
	Pending   int
	Completed int
	Failed    int
	Cancelled int
}

// StatusSummary describes workflow health and queue contents.
type StatusSummary struct {
	Running     bool
	LastError   string
	State       queue.State
	Counts      map[queue.Status]int
	Batches     map[string]BatchCounts
	Snapshot    a1111.ProgressSnapshot
	HasSnapshot bool
	Decision    ownership.Decision
}

// Status returns a summary for the daemon status view.
func (m *Manager) Status() StatusSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := StatusSummary{
		Running:     m.running,
		State:       m.stateLocked(),
		Counts:      make(map[queue.Status]int),
		Batches:     make(map[string]BatchCounts),
		Snapshot:    m.latest,
		HasSnapshot: m.hasLatest,
		Decision:    m.lastDecision,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	for _, id := range m.order {
		job, ok := m.jobs[id]
		if !ok {
			continue
		}
		summary.Counts[job.Status]++
		if job.BatchID == "" {
			continue
		}
		counts := summary.Batches[job.BatchID]
		counts.Total++
		switch job.Status {
		case queue.StatusCompleted:
			counts.Completed++
		case queue.StatusFailed:
			counts.Failed++
		case queue.StatusCancelled:
			counts.Cancelled++
		default:
			counts.Pending++
		}
		summary.Batches[job.BatchID] = counts
	}
	return summary
}
