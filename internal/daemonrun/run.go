package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"finisher/internal/catalog"
	"finisher/internal/config"
	"finisher/internal/daemon"
	"finisher/internal/history"
	"finisher/internal/ipc"
	"finisher/internal/logging"
	"finisher/internal/metrics"
	"finisher/internal/notifications"
	"finisher/internal/poller"
	"finisher/internal/preflight"
	"finisher/internal/services/a1111"
	"finisher/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Runtime holds the assembled daemon and the components it coordinates.
type Runtime struct {
	Daemon   *daemon.Daemon
	Manager  *workflow.Manager
	Poller   *poller.Poller
	Catalog  *catalog.Catalog
	Client   *a1111.Client
	History  *history.Store
	Metrics  *metrics.Metrics
	Notifier notifications.Service
}

// PIDPath returns where the daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "finisher.pid")
}

// Assemble builds the component graph for cfg without starting anything.
// The poller drives the manager: the manager supplies the poll mode and
// observes every snapshot, and asks for an immediate poll after interrupts.
func Assemble(cfg *config.Config, logger *slog.Logger, logHub *logging.StreamHub) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	mx := metrics.New()
	client := a1111.NewClient(a1111.Config{
		BaseURL:           cfg.Server.BaseURL,
		ProcessingTimeout: cfg.ProcessingTimeout(),
		StatusTimeout:     cfg.StatusTimeout(),
		OptionsTimeout:    cfg.OptionsTimeout(),
	})
	options := catalog.New(client, logger)
	notifier := notifications.NewService(cfg)

	var store *history.Store
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
	}

	statusPoller := poller.New(client, poller.IntervalsFromConfig(cfg), logger, poller.WithMetrics(mx))

	managerOpts := []workflow.ManagerOption{
		workflow.WithOptionsProvider(options),
		workflow.WithNotifier(notifier),
		workflow.WithMetrics(mx),
		workflow.WithPollTrigger(statusPoller),
	}
	if store != nil {
		managerOpts = append(managerOpts, workflow.WithArchive(store))
	}
	mgr := workflow.NewManager(cfg, client, logger, managerOpts...)
	statusPoller.SetModeProvider(mgr.Mode)
	statusPoller.AddObserver(mgr)

	d, err := daemon.New(cfg, logger, daemon.Dependencies{
		Workflow: mgr,
		Poller:   statusPoller,
		Catalog:  options,
		Server:   client,
		History:  store,
		Metrics:  mx,
		LogHub:   logHub,
		Notifier: notifier,
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, fmt.Errorf("create daemon: %w", err)
	}

	return &Runtime{
		Daemon:   d,
		Manager:  mgr,
		Poller:   statusPoller,
		Catalog:  options,
		Client:   client,
		History:  store,
		Metrics:  mx,
		Notifier: notifier,
	}, nil
}

// Run starts the finisher daemon runtime loop. It returns when the process
// receives SIGINT/SIGTERM or a client requests a stop over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("finisher-%s.log", runID))
	logHub := logging.NewStreamHub(4096)

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		Outputs:     []string{"stderr", logPath},
		Development: opts.Development,
		Stream:      logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update finisher.log link: %v\n", err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, "finisher-*.log", cfg.Logging.RetentionDays, logPath)

	logPreflight(signalCtx, logger, cfg)

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	rt, err := Assemble(cfg, logger, logHub)
	if err != nil {
		logger.Error("assemble daemon", logging.Error(err))
		return err
	}
	defer rt.Daemon.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), rt.Daemon, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := rt.Daemon.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file and that no other finisher daemon is running"),
			logging.String(logging.FieldImpact, "queued jobs will not be processed"),
		)
		return err
	}

	select {
	case <-signalCtx.Done():
	case <-ipcServer.StopRequested():
	}
	logger.Info("finisher daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	for _, result := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "jobs may fail until this is fixed"),
		)
	}
	logger.Info("preflight complete",
		logging.String(logging.FieldEventType, "preflight_complete"),
		logging.Int("checks", len(results)),
		logging.String("server", cfg.Server.BaseURL),
	)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "finisher.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
