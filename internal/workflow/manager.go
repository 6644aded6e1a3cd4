package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"finisher/internal/config"
	"finisher/internal/logging"
	"finisher/internal/metrics"
	"finisher/internal/notifications"
	"finisher/internal/ownership"
	"finisher/internal/pipeline"
	"finisher/internal/queue"
	"finisher/internal/services/a1111"
)

// Gateway is the part of the server client the manager drives directly.
type Gateway interface {
	pipeline.Gateway
	Interrupt(ctx context.Context) error
}

// PollTrigger asks the status poller for an immediate reading.
type PollTrigger interface {
	Trigger()
}

// Archive stores terminal jobs for later inspection.
type Archive interface {
	Record(ctx context.Context, job queue.Job) error
}

// Manager coordinates the job queue, the worker, and cancellation.
type Manager struct {
	cfg       *config.Config
	gateway   Gateway
	pipeline  *pipeline.Pipeline
	options   pipeline.OptionsProvider
	logger    *slog.Logger
	notifier  notifications.Service
	archive   Archive
	metrics   *metrics.Metrics
	poller    PollTrigger
	events    *EventHub
	now       func() time.Time
	defaults  pipeline.ProcessingConfig
	tolerance time.Duration

	mu           sync.Mutex
	jobs         map[string]*queue.Job
	order        []string
	pending      queue.Pending
	activeID     string
	paused       bool
	latest       a1111.ProgressSnapshot
	hasLatest    bool
	lastDecision ownership.Decision
	sampler      *logging.ProgressSampler
	cancelTimer  *time.Timer
	running      bool
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	lastErr      error

	queueActive bool
	queueStart  time.Time
	drain       drainCounts

	wake chan struct{}
}

type drainCounts struct {
	completed int
	failed    int
	cancelled int
}

// ManagerOption configures optional Manager collaborators.
type ManagerOption func(*Manager)

// WithOptionsProvider enables option-name checks against a catalog.
func WithOptionsProvider(provider pipeline.OptionsProvider) ManagerOption {
	return func(m *Manager) {
		m.options = provider
	}
}

// WithNotifier replaces the notification service built from config.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithArchive records every terminal job.
func WithArchive(archive Archive) ManagerOption {
	return func(m *Manager) {
		m.archive = archive
	}
}

// WithMetrics records queue and job metrics.
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithPollTrigger lets cancellation shorten the wait for an idle reading.
func WithPollTrigger(trigger PollTrigger) ManagerOption {
	return func(m *Manager) {
		m.poller = trigger
	}
}

// WithEventHub shares an event hub with the caller.
func WithEventHub(hub *EventHub) ManagerOption {
	return func(m *Manager) {
		if hub != nil {
			m.events = hub
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, gateway Gateway, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:       cfg,
		gateway:   gateway,
		logger:    logger,
		notifier:  notifications.NewService(cfg),
		events:    NewEventHub(0),
		now:       time.Now,
		defaults:  pipeline.DefaultConfig(cfg.Processing),
		tolerance: cfg.TimestampTolerance(),
		jobs:      make(map[string]*queue.Job),
		wake:      make(chan struct{}, 1),
		sampler:   logging.NewProgressSampler(25),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pipeline = newPipeline(cfg, gateway, m.options, logger, m.now)
	return m
}

func newPipeline(cfg *config.Config, gateway Gateway, provider pipeline.OptionsProvider, logger *slog.Logger, now func() time.Time) *pipeline.Pipeline {
	fallbacks := pipeline.Fallbacks{
		Upscaler:      cfg.Processing.FallbackUpscaler,
		Sampler:       cfg.Processing.Sampler,
		Scheduler:     cfg.Processing.Scheduler,
		FinalUpscaler: cfg.Processing.FinalUpscaler,
	}
	return pipeline.New(gateway, provider, fallbacks, logger, pipeline.WithClock(now))
}

// Events exposes the subscription stream.
func (m *Manager) Events() *EventHub {
	return m.events
}

// Defaults returns the processing config applied to requests without overrides.
func (m *Manager) Defaults() pipeline.ProcessingConfig {
	return m.defaults
}

// Start launches the worker goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.lastErr = nil
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runWorker(runCtx)
	m.signal()
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("capacity", m.cfg.Jobs.Capacity),
	)
	return nil
}

// Stop cancels the worker and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	if m.cancelTimer != nil {
		m.cancelTimer.Stop()
		m.cancelTimer = nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// stateLocked builds a QueueState copy. Caller holds m.mu.
func (m *Manager) stateLocked() queue.State {
	state := queue.State{
		Pending:  m.pending.IDs(),
		ActiveID: m.activeID,
		Paused:   m.paused,
		Capacity: m.cfg.Jobs.Capacity,
	}
	if job, ok := m.jobs[m.activeID]; ok {
		state.ActiveStatus = job.Status
	}
	return state
}

// publish sends an event built from copies. It must be called without m.mu.
func (m *Manager) publish(kind EventKind, job *queue.Job, state queue.State, message string) {
	evt := Event{Kind: kind, State: state, Message: message, Timestamp: m.now().UTC()}
	if job != nil {
		cp := job.Clone()
		evt.Job = &cp
	}
	m.mu.Lock()
	if m.hasLatest {
		snap := m.latest
		evt.Snapshot = &snap
	}
	evt.Decision = m.lastDecision
	m.mu.Unlock()
	m.events.Publish(evt)
}

// pruneLocked keeps at most history_limit terminal jobs in memory.
func (m *Manager) pruneLocked() {
	limit := m.cfg.Jobs.HistoryLimit
	if limit <= 0 {
		return
	}
	terminal := 0
	for _, id := range m.order {
		if job, ok := m.jobs[id]; ok && job.Status.IsTerminal() {
			terminal++
		}
	}
	if terminal <= limit {
		return
	}
	excess := terminal - limit
	kept := m.order[:0]
	for _, id := range m.order {
		job := m.jobs[id]
		if excess > 0 && job != nil && job.Status.IsTerminal() {
			delete(m.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}
