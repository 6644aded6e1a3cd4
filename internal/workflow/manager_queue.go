package workflow

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"finisher/internal/logging"
	"finisher/internal/pipeline"
	"finisher/internal/queue"
	"finisher/internal/services"
)

// Request describes a job to enqueue. Zero-valued override fields keep the
// configured defaults unless their json key is listed in Explicit.
type Request struct {
	Image       string
	Description string
	Overrides   pipeline.ProcessingConfig
	Explicit    []string
}

func (m *Manager) buildJob(req Request) (*queue.Job, error) {
	image := strings.TrimSpace(req.Image)
	if image == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "image payload is empty", nil)
	}
	cfg := m.defaults.Merge(req.Overrides, req.Explicit...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return queue.NewJob(m.now(), image, cfg, req.Description), nil
}

// Enqueue validates req and appends it to the pending FIFO.
func (m *Manager) Enqueue(ctx context.Context, req Request) (string, error) {
	ids, err := m.enqueue(ctx, []Request{req}, "")
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueBatch adds every request under one batch id. Capacity is checked for
// the whole batch; either all jobs are queued or none are.
func (m *Manager) EnqueueBatch(ctx context.Context, reqs []Request) (string, []string, error) {
	if len(reqs) == 0 {
		return "", nil, services.Wrap(services.ErrValidation, "queue", "enqueue batch", "batch is empty", nil)
	}
	batchID := "batch_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	ids, err := m.enqueue(ctx, reqs, batchID)
	if err != nil {
		return "", nil, err
	}
	return batchID, ids, nil
}

func (m *Manager) enqueue(ctx context.Context, reqs []Request, batchID string) ([]string, error) {
	jobs := make([]*queue.Job, 0, len(reqs))
	for _, req := range reqs {
		job, err := m.buildJob(req)
		if err != nil {
			return nil, err
		}
		job.BatchID = batchID
		jobs = append(jobs, job)
	}

	m.mu.Lock()
	capacity := m.cfg.Jobs.Capacity
	if m.pending.Len()+len(jobs) > capacity {
		pending := m.pending.Len()
		m.mu.Unlock()
		logging.WithContext(ctx, m.logger).Warn("enqueue rejected, queue full",
			logging.String(logging.FieldEventType, "queue_full"),
			logging.Int("pending", pending),
			logging.Int("requested", len(jobs)),
			logging.Int("capacity", capacity),
			logging.String(logging.FieldImpact, "jobs were not queued"),
			logging.String(logging.FieldErrorHint, "wait for queued jobs to finish or raise jobs.capacity"),
		)
		return nil, services.Wrap(services.ErrQueueFull, "queue", "enqueue", "pending queue is at capacity", nil)
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		m.jobs[job.ID] = job
		m.order = append(m.order, job.ID)
		m.pending.Push(job.ID)
		ids = append(ids, job.ID)
	}
	state := m.stateLocked()
	copies := make([]queue.Job, len(jobs))
	for i, job := range jobs {
		copies[i] = job.Clone()
	}
	idle := m.activeID == "" && !m.paused
	m.mu.Unlock()

	logger := logging.WithContext(ctx, m.logger)
	for i := range copies {
		logger.Info("job queued",
			logging.String(logging.FieldEventType, "job_queued"),
			logging.String(logging.FieldJobID, copies[i].ID),
			logging.String("batch_id", batchID),
			logging.Int("image_bytes", copies[i].ImageBytes),
			logging.Int("pending", len(state.Pending)),
		)
		m.publish(EventJobAdded, &copies[i], state, "")
	}
	m.metrics.JobEnqueued(len(copies))
	m.metrics.QueueDepth(len(state.Pending), state.ActiveID != "")
	if idle {
		m.signal()
	}
	return ids, nil
}

// CurrentState returns a copy of the queue state. It never blocks on I/O.
func (m *Manager) CurrentState() queue.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Jobs returns copies of live and recently finished jobs in creation order.
func (m *Manager) Jobs() []queue.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Job, 0, len(m.order))
	for _, id := range m.order {
		if job, ok := m.jobs[id]; ok {
			out = append(out, job.Clone())
		}
	}
	return out
}

// Job returns a copy of one job.
func (m *Manager) Job(id string) (queue.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[strings.TrimSpace(id)]
	if !ok {
		return queue.Job{}, services.Wrap(services.ErrNotFound, "queue", "lookup", "job "+id+" not found", nil)
	}
	return job.Clone(), nil
}

// Position reports the zero-based FIFO position of a pending job, or -1.
func (m *Manager) Position(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Position(id)
}

// Pause stops admission. A running job is unaffected.
func (m *Manager) Pause() bool {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return false
	}
	m.paused = true
	state := m.stateLocked()
	m.mu.Unlock()

	m.logger.Info("queue paused", logging.String(logging.FieldEventType, "queue_paused"))
	m.publish(EventQueuePaused, nil, state, "")
	return true
}

// Resume restarts admission.
func (m *Manager) Resume() bool {
	m.mu.Lock()
	if !m.paused {
		m.mu.Unlock()
		return false
	}
	m.paused = false
	state := m.stateLocked()
	m.mu.Unlock()

	m.logger.Info("queue resumed", logging.String(logging.FieldEventType, "queue_resumed"))
	m.publish(EventQueueResumed, nil, state, "")
	m.signal()
	return true
}

// ClearFinished drops terminal jobs from memory and returns how many were
// removed.
func (m *Manager) ClearFinished() int {
	m.mu.Lock()
	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		if job, ok := m.jobs[id]; ok && job.Status.IsTerminal() {
			delete(m.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	state := m.stateLocked()
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Info("finished jobs cleared",
			logging.String(logging.FieldEventType, "queue_cleared"),
			logging.Int("count", removed),
		)
		m.publish(EventQueueCleared, nil, state, "")
	}
	return removed
}
