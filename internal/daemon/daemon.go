package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"finisher/internal/api"
	"finisher/internal/catalog"
	"finisher/internal/config"
	"finisher/internal/history"
	"finisher/internal/logging"
	"finisher/internal/metrics"
	"finisher/internal/notifications"
	"finisher/internal/poller"
	"finisher/internal/queue"
	"finisher/internal/services"
	"finisher/internal/workflow"
)

// historyPruneInterval is how often expired archive entries are removed.
const historyPruneInterval = time.Hour

// ServerChecker checks generation server reachability.
type ServerChecker interface {
	Health(ctx context.Context) error
	BaseURL() string
}

// Dependencies groups the collaborators a Daemon coordinates. Workflow and
// Poller are required.
type Dependencies struct {
	Workflow *workflow.Manager
	Poller   *poller.Poller
	Catalog  *catalog.Catalog
	Server   ServerChecker
	History  *history.Store
	Metrics  *metrics.Metrics
	LogHub   *logging.StreamHub
	Notifier notifications.Service
}

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	poller   *poller.Poller
	catalog  *catalog.Catalog
	server   ServerChecker
	history  *history.Store
	metrics  *metrics.Metrics
	logHub   *logging.StreamHub
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running  atomic.Bool
	watchers atomic.Int32
	mu       sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool
	PID             int
	LockFilePath    string
	HistoryPath     string
	Workflow        workflow.StatusSummary
	ServerURL       string
	ServerReachable bool
	ServerDetail    string
	Options         catalog.Options
}

// API converts the status into its wire representation.
func (s Status) API() api.DaemonStatus {
	return api.DaemonStatus{
		Running:      s.Running,
		PID:          s.PID,
		LockFilePath: s.LockFilePath,
		HistoryPath:  s.HistoryPath,
		Workflow:     api.FromStatusSummary(s.Workflow),
		Server: api.ServerStatus{
			URL:            s.ServerURL,
			Reachable:      s.ServerReachable,
			Detail:         s.ServerDetail,
			OptionsLoaded:  s.Options.Loaded(),
			OptionsRefresh: api.FromOptions(s.Options).RefreshedAt,
		},
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, deps Dependencies) (*Daemon, error) {
	if cfg == nil || deps.Workflow == nil || deps.Poller == nil {
		return nil, errors.New("daemon requires config, workflow manager, and poller")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: deps.Workflow,
		poller:   deps.Poller,
		catalog:  deps.Catalog,
		server:   deps.Server,
		history:  deps.History,
		metrics:  deps.Metrics,
		logHub:   deps.LogHub,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the poller, workflow manager,
// and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another finisher daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.poller.SetObserved(d.watchers.Load() > 0)
	if err := d.poller.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start poller: %w", err)
	}
	if err := d.workflow.Start(runCtx); err != nil {
		d.poller.Stop()
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		d.poller.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.RefreshOptions(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(d.logger, "initial option discovery failed", "options_refresh_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check server.base_url and that the server is running"),
				logging.String(logging.FieldImpact, "requested option names are not checked until the next refresh"),
			)
		}
	}()
	if d.history != nil && d.cfg.History.RetentionDays > 0 {
		d.wg.Add(1)
		go d.pruneHistoryLoop(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("finisher daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("server", d.cfg.Server.BaseURL),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.api.stop()
	d.workflow.Stop()
	d.poller.Stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("finisher daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

func (d *Daemon) pruneHistoryLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()
	for {
		d.pruneHistory(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -d.cfg.History.RetentionDays)
	removed, err := d.history.Prune(ctx, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed", logging.Error(err))
		}
		return
	}
	if removed > 0 {
		d.logger.Info("pruned history entries",
			logging.String(logging.FieldEventType, "history_pruned"),
			logging.Int64("removed", removed),
		)
	}
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Status(),
		ServerURL:    d.cfg.Server.BaseURL,
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}
	if d.catalog != nil {
		status.Options = d.catalog.Options()
	}
	if err := d.poller.LastError(); err != nil {
		status.ServerDetail = err.Error()
	} else if _, ok := d.poller.Latest(); ok {
		status.ServerReachable = true
	} else if d.server != nil {
		healthCtx, cancel := context.WithTimeout(ctx, d.cfg.StatusTimeout())
		defer cancel()
		if err := d.server.Health(healthCtx); err != nil {
			status.ServerDetail = err.Error()
		} else {
			status.ServerReachable = true
		}
	}
	return status
}

// Enqueue adds one job.
func (d *Daemon) Enqueue(ctx context.Context, req workflow.Request) (string, error) {
	return d.workflow.Enqueue(ctx, req)
}

// EnqueueBatch adds a group of jobs under one batch id.
func (d *Daemon) EnqueueBatch(ctx context.Context, reqs []workflow.Request) (string, []string, error) {
	return d.workflow.EnqueueBatch(ctx, reqs)
}

// Cancel cancels a queued or running job.
func (d *Daemon) Cancel(ctx context.Context, id string) error {
	return d.workflow.Cancel(ctx, id)
}

// Interrupt stops whatever the server is currently generating. It reports
// whether a local job was affected.
func (d *Daemon) Interrupt(ctx context.Context) (bool, error) {
	return d.workflow.EmergencyInterrupt(ctx)
}

// Jobs returns every job the manager still tracks.
func (d *Daemon) Jobs() []queue.Job {
	return d.workflow.Jobs()
}

// Job returns one job and its FIFO position (-1 when not pending).
func (d *Daemon) Job(id string) (queue.Job, int, error) {
	job, err := d.workflow.Job(id)
	if err != nil {
		return queue.Job{}, -1, err
	}
	return job, d.workflow.Position(id), nil
}

// Position reports the FIFO index of a pending job, or -1.
func (d *Daemon) Position(id string) int {
	return d.workflow.Position(id)
}

// Pause holds admission of pending jobs.
func (d *Daemon) Pause() bool {
	return d.workflow.Pause()
}

// Resume re-enables admission.
func (d *Daemon) Resume() bool {
	return d.workflow.Resume()
}

// ClearFinished drops terminal jobs from memory.
func (d *Daemon) ClearFinished() int {
	return d.workflow.ClearFinished()
}

// Options returns the last known option catalog.
func (d *Daemon) Options() catalog.Options {
	if d.catalog == nil {
		return catalog.Options{}
	}
	return d.catalog.Options()
}

// RefreshOptions re-runs option discovery against the server.
func (d *Daemon) RefreshOptions(ctx context.Context) (catalog.Options, error) {
	if d.catalog == nil {
		return catalog.Options{}, services.Wrap(services.ErrConfiguration, "options", "refresh", "option catalog unavailable", nil)
	}
	refreshCtx, cancel := context.WithTimeout(ctx, d.cfg.OptionsTimeout())
	defer cancel()
	return d.catalog.Refresh(refreshCtx)
}

// Events returns events after since, optionally waiting for new ones. While
// any caller is waiting the poller runs at its observed cadence.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool) ([]workflow.Event, uint64, error) {
	if wait {
		d.watch(1)
		defer d.watch(-1)
	}
	return d.workflow.Events().Fetch(ctx, since, limit, wait)
}

func (d *Daemon) watch(delta int32) {
	d.poller.SetObserved(d.watchers.Add(delta) > 0)
}

// History lists archived jobs, newest first.
func (d *Daemon) History(ctx context.Context, limit int, status queue.Status) ([]history.Entry, error) {
	if d.history == nil {
		return nil, services.Wrap(services.ErrConfiguration, "history", "list", "history archive disabled", nil)
	}
	return d.history.List(ctx, limit, status)
}

// LogStream exposes the in-memory log buffer.
func (d *Daemon) LogStream() *logging.StreamHub {
	return d.logHub
}

// Metrics exposes the metric registry wrapper.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
