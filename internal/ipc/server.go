package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"finisher/internal/api"
	"finisher/internal/daemon"
	"finisher/internal/logging"
	"finisher/internal/queue"
	"finisher/internal/services"
	"finisher/internal/workflow"
)

const (
	defaultFollowWait = 10 * time.Second
	maxFollowWait     = 60 * time.Second
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	srv := &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpc.NewServer(),
		ctx:       serverCtx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
	svc := &service{daemon: d, logger: logger, ctx: serverCtx, requestStop: srv.requestStop}
	if err := srv.rpcServer.RegisterName("Finisher", svc); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return srv, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}()
}

// StopRequested is closed once a client asks the daemon process to exit.
func (s *Server) StopRequested() <-chan struct{} {
	return s.stopped
}

func (s *Server) requestStop() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Close stops accepting connections and removes the socket file. Open client
// connections end when the daemon process exits.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun finisher stop"))
	}
}

type service struct {
	daemon      *daemon.Daemon
	logger      *slog.Logger
	ctx         context.Context
	requestStop func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

// call tags the daemon context with a fresh IPC call id for log correlation.
func (s *service) call() context.Context {
	return services.WithRequestID(s.ctx, "ipc-"+uuid.NewString()[:8])
}

func toRequest(req EnqueueRequest) workflow.Request {
	return workflow.Request{
		Image:       req.Image,
		Description: req.Description,
		Overrides:   api.ToConfig(req.Overrides),
		Explicit:    req.Explicit,
	}
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	id, err := s.daemon.Enqueue(s.call(), toRequest(req))
	if err != nil {
		return encodeError(err)
	}
	resp.ID = id
	resp.Position = s.daemon.Position(id)
	return nil
}

func (s *service) EnqueueBatch(req EnqueueBatchRequest, resp *EnqueueBatchResponse) error {
	reqs := make([]workflow.Request, 0, len(req.Jobs))
	for _, job := range req.Jobs {
		reqs = append(reqs, toRequest(job))
	}
	batchID, ids, err := s.daemon.EnqueueBatch(s.call(), reqs)
	if err != nil {
		return encodeError(err)
	}
	resp.BatchID = batchID
	resp.IDs = ids
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		return encodeError(services.Wrap(services.ErrValidation, "ipc", "cancel", "job id is required", nil))
	}
	if err := s.daemon.Cancel(s.call(), id); err != nil {
		return encodeError(err)
	}
	job, position, err := s.daemon.Job(id)
	if err != nil {
		return encodeError(err)
	}
	resp.Job = api.FromJob(job, position)
	s.log().Info("job cancel requested via IPC",
		logging.String(logging.FieldEventType, "ipc_cancel"),
		logging.String(logging.FieldJobID, id))
	return nil
}

func (s *service) Interrupt(_ InterruptRequest, resp *InterruptResponse) error {
	local, err := s.daemon.Interrupt(s.call())
	resp.LocalJob = local
	return encodeError(err)
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx).API()
	return nil
}

func (s *service) Jobs(req JobsRequest, resp *JobsResponse) error {
	filter := make(map[queue.Status]struct{}, len(req.Statuses))
	for _, value := range req.Statuses {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			return encodeError(services.Wrap(services.ErrValidation, "ipc", "jobs", fmt.Sprintf("unknown status %q", value), nil))
		}
		filter[parsed] = struct{}{}
	}
	jobs := s.daemon.Jobs()
	resp.Jobs = make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		if len(filter) > 0 {
			if _, ok := filter[job.Status]; !ok {
				continue
			}
		}
		resp.Jobs = append(resp.Jobs, api.FromJob(job, s.daemon.Position(job.ID)))
	}
	return nil
}

func (s *service) Job(req JobRequest, resp *JobResponse) error {
	job, position, err := s.daemon.Job(strings.TrimSpace(req.ID))
	if err != nil {
		return encodeError(err)
	}
	resp.Job = api.FromJob(job, position)
	return nil
}

func (s *service) Pause(_ PauseRequest, resp *ToggleResponse) error {
	resp.Changed = s.daemon.Pause()
	return nil
}

func (s *service) Resume(_ ResumeRequest, resp *ToggleResponse) error {
	resp.Changed = s.daemon.Resume()
	return nil
}

func (s *service) ClearFinished(_ ClearFinishedRequest, resp *ClearFinishedResponse) error {
	resp.Removed = s.daemon.ClearFinished()
	return nil
}

func (s *service) Options(req OptionsRequest, resp *OptionsResponse) error {
	if req.Refresh {
		opts, err := s.daemon.RefreshOptions(s.ctx)
		if err != nil {
			return encodeError(err)
		}
		*resp = api.FromOptions(opts)
		return nil
	}
	*resp = api.FromOptions(s.daemon.Options())
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx, cancel := followContext(s.ctx, req.Follow, req.WaitMillis)
	defer cancel()
	events, next, err := s.daemon.Events(ctx, req.Since, req.Limit, req.Follow)
	if err != nil && !isWaitExpired(err) {
		return err
	}
	resp.Events = api.FromEvents(events)
	resp.Next = next
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	var status queue.Status
	if value := strings.TrimSpace(req.Status); value != "" {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			return encodeError(services.Wrap(services.ErrValidation, "ipc", "history", fmt.Sprintf("unknown status %q", value), nil))
		}
		status = parsed
	}
	entries, err := s.daemon.History(s.ctx, req.Limit, status)
	if err != nil {
		return encodeError(err)
	}
	resp.Entries = make([]api.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, api.FromHistoryEntry(entry))
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	hub := s.daemon.LogStream()
	if hub == nil {
		resp.Events = []api.LogEvent{}
		return nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	var raw []logging.LogEvent
	var next uint64
	if req.Since == 0 && !req.Follow {
		raw, next = hub.Tail(limit)
	} else {
		ctx, cancel := followContext(s.ctx, req.Follow, req.WaitMillis)
		defer cancel()
		var err error
		raw, next, err = hub.Fetch(ctx, req.Since, limit, req.Follow)
		if err != nil && !isWaitExpired(err) {
			return err
		}
	}
	events := api.FromLogEvents(raw)
	if jobID := strings.TrimSpace(req.JobID); jobID != "" {
		filtered := events[:0]
		for _, evt := range events {
			if evt.JobID == jobID {
				filtered = append(filtered, evt)
			}
		}
		events = filtered
	}
	resp.Events = events
	resp.Next = next
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	if s.requestStop != nil {
		s.requestStop()
	}
	return nil
}

func followContext(parent context.Context, follow bool, waitMillis int) (context.Context, context.CancelFunc) {
	if !follow {
		return parent, func() {}
	}
	wait := time.Duration(waitMillis) * time.Millisecond
	if wait <= 0 {
		wait = defaultFollowWait
	}
	if wait > maxFollowWait {
		wait = maxFollowWait
	}
	return context.WithTimeout(parent, wait)
}

func isWaitExpired(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
