// Package poller samples the generation server's progress endpoint on an
// adaptive cadence and fans each snapshot out to registered observers.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"finisher/internal/config"
	"finisher/internal/logging"
	"finisher/internal/metrics"
	"finisher/internal/services/a1111"
)

// Mode is the controller state that drives the polling cadence.
type Mode int

const (
	ModeIdle Mode = iota
	ModePassOne
	ModePassTwo
	ModeCancelling
)

func (m Mode) String() string {
	switch m {
	case ModePassOne:
		return "pass1"
	case ModePassTwo:
		return "pass2"
	case ModeCancelling:
		return "cancelling"
	default:
		return "idle"
	}
}

// Fetcher retrieves a progress snapshot.
type Fetcher interface {
	Progress(ctx context.Context) (a1111.ProgressSnapshot, error)
}

// Observer receives every successful snapshot.
type Observer interface {
	Observe(snapshot a1111.ProgressSnapshot)
}

// Intervals holds the cadence policy.
type Intervals struct {
	Active               time.Duration
	Idle                 time.Duration
	Error                time.Duration
	MaxConsecutiveErrors int
	UnobservedMultiplier int
}

// IntervalsFromConfig converts the [polling] section.
func IntervalsFromConfig(cfg *config.Config) Intervals {
	return Intervals{
		Active:               time.Duration(cfg.Polling.ActiveInterval) * time.Second,
		Idle:                 time.Duration(cfg.Polling.IdleInterval) * time.Second,
		Error:                time.Duration(cfg.Polling.ErrorInterval) * time.Second,
		MaxConsecutiveErrors: cfg.Polling.MaxConsecutiveErrors,
		UnobservedMultiplier: cfg.Polling.UnobservedMultiplier,
	}
}

// Poller periodically fetches progress snapshots.
type Poller struct {
	fetcher   Fetcher
	intervals Intervals
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu                sync.Mutex
	mode              func() Mode
	observers         []Observer
	observed          bool
	latest            a1111.ProgressSnapshot
	hasLatest         bool
	consecutiveErrors int
	lastErr           error
	running           bool
	cancel            context.CancelFunc
	wg                sync.WaitGroup

	trigger chan struct{}
}

// Option configures optional poller behaviour.
type Option func(*Poller)

// WithMetrics records poll outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithModeProvider sets the function consulted before each wait.
func WithModeProvider(fn func() Mode) Option {
	return func(p *Poller) {
		p.mode = fn
	}
}

// New constructs a poller. It starts observed; callers that have no UI or
// stream subscriber attached may call SetObserved(false).
func New(fetcher Fetcher, intervals Intervals, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Poller{
		fetcher:   fetcher,
		intervals: intervals,
		logger:    logging.NewComponentLogger(logger, "poller"),
		observed:  true,
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetModeProvider replaces the mode provider after construction.
func (p *Poller) SetModeProvider(fn func() Mode) {
	p.mu.Lock()
	p.mode = fn
	p.mu.Unlock()
}

// AddObserver registers an observer for subsequent snapshots.
func (p *Poller) AddObserver(o Observer) {
	if o == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

// SetObserved toggles whether anything is watching progress.
func (p *Poller) SetObserved(observed bool) {
	p.mu.Lock()
	p.observed = observed
	p.mu.Unlock()
}

// Trigger requests an immediate poll. Extra triggers coalesce.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Latest returns the most recent snapshot.
func (p *Poller) Latest() (a1111.ProgressSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasLatest
}

// LastError reports the most recent fetch failure, cleared on success.
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// ConsecutiveErrors reports the current failure streak.
func (p *Poller) ConsecutiveErrors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveErrors
}

// Interval computes the wait before the next poll.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	modeFn := p.mode
	errorsSeen := p.consecutiveErrors
	observed := p.observed
	p.mu.Unlock()

	mode := ModeIdle
	if modeFn != nil {
		mode = modeFn()
	}

	if p.intervals.MaxConsecutiveErrors > 0 && errorsSeen >= p.intervals.MaxConsecutiveErrors {
		return p.intervals.Error
	}
	var interval time.Duration
	switch mode {
	case ModePassOne, ModeCancelling:
		interval = p.intervals.Active
	default:
		interval = p.intervals.Idle
	}
	if !observed && p.intervals.UnobservedMultiplier > 1 {
		interval *= time.Duration(p.intervals.UnobservedMultiplier)
	}
	return interval
}

// PollOnce fetches one snapshot and notifies observers on success.
func (p *Poller) PollOnce(ctx context.Context) error {
	snapshot, err := p.fetcher.Progress(ctx)
	if err != nil {
		p.mu.Lock()
		p.consecutiveErrors++
		p.lastErr = err
		streak := p.consecutiveErrors
		p.mu.Unlock()
		p.metrics.PollFailed()
		if errors.Is(err, context.Canceled) {
			p.logger.Debug("progress poll cancelled", logging.Error(err))
			return err
		}
		logging.WarnWithContext(p.logger, "progress poll failed", "poll_failed",
			logging.Error(err),
			logging.Int("consecutive_errors", streak),
			logging.String(logging.FieldErrorHint, "check that the generation server is reachable"),
			logging.String(logging.FieldImpact, "status updates are delayed; running jobs are unaffected"),
		)
		return err
	}

	p.mu.Lock()
	if p.consecutiveErrors > 0 {
		p.logger.Info("progress polling recovered",
			logging.String(logging.FieldEventType, "poll_recovered"),
			logging.Int("failed_attempts", p.consecutiveErrors),
		)
	}
	p.consecutiveErrors = 0
	p.lastErr = nil
	p.latest = snapshot
	p.hasLatest = true
	observers := append([]Observer(nil), p.observers...)
	p.mu.Unlock()

	p.metrics.PollSucceeded(snapshot.Progress)
	for _, o := range observers {
		o.Observe(snapshot)
	}
	return nil
}

// Start launches the polling goroutine.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("poller already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	p.mu.Unlock()

	go p.loop(runCtx)
	return nil
}

// Stop halts polling and waits for the goroutine to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()
	for {
		_ = p.PollOnce(ctx)

		timer := time.NewTimer(p.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}
