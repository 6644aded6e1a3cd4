package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"finisher/internal/api"
	"finisher/internal/config"
	"finisher/internal/logging"
	"finisher/internal/queue"
	"finisher/internal/services"
)

const (
	defaultEventLimit   = 200
	defaultHistoryLimit = 50
	// followWait bounds a long-poll request so it returns before WriteTimeout.
	followWait = 25 * time.Second
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(correlate)
	r.Use(middleware.Recoverer)
	r.Use(s.daemon.metrics.Middleware)

	r.Get("/metrics", s.daemon.metrics.Handler().ServeHTTP)
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", s.handleStatus)
		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJob)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Get("/events", s.handleEvents)
		r.Get("/history", s.handleHistory)
		r.Get("/options", s.handleOptions)
		r.Get("/logs", s.handleLogs)
	})
	return r
}

// correlate copies chi's request id into the services context so workflow
// log records carry it as correlation_id.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := services.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()).API())
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	filter := make(map[queue.Status]struct{})
	for _, value := range r.URL.Query()["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filter[queue.Status(trimmed)] = struct{}{}
		}
	}
	jobs := s.daemon.Jobs()
	out := make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		if len(filter) > 0 {
			if _, ok := filter[job.Status]; !ok {
				continue
			}
		}
		out = append(out, api.FromJob(job, s.daemon.Position(job.ID)))
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: out})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, position, err := s.daemon.Job(chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job, position)})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.daemon.Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	job, position, err := s.daemon.Job(id)
	if err != nil {
		s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job, position)})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit := parseLimit(query.Get("limit"), defaultEventLimit)
	follow := parseBool(query.Get("follow"))

	ctx := r.Context()
	if follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, followWait)
		defer cancel()
	}
	events, next, err := s.daemon.Events(ctx, since, limit, follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.EventStreamResponse{Events: api.FromEvents(events), Next: next})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseLimit(query.Get("limit"), defaultHistoryLimit)
	status := queue.Status(strings.TrimSpace(query.Get("status")))
	entries, err := s.daemon.History(r.Context(), limit, status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]api.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, api.FromHistoryEntry(entry))
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Entries: out})
}

func (s *apiServer) handleOptions(w http.ResponseWriter, r *http.Request) {
	if parseBool(r.URL.Query().Get("refresh")) {
		opts, err := s.daemon.RefreshOptions(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromOptions(opts))
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromOptions(s.daemon.Options()))
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.daemon.LogStream()
	if hub == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: []api.LogEvent{}})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit := parseLimit(query.Get("limit"), defaultEventLimit)
	follow := parseBool(query.Get("follow"))
	jobID := strings.TrimSpace(query.Get("job"))
	component := strings.TrimSpace(query.Get("component"))

	if since == 0 && !follow {
		raw, next := hub.Tail(limit)
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filterLogs(api.FromLogEvents(raw), jobID, component), Next: next})
		return
	}

	ctx := r.Context()
	if follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, followWait)
		defer cancel()
	}
	raw, next, err := hub.Fetch(ctx, since, limit, follow)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: filterLogs(api.FromLogEvents(raw), jobID, component), Next: next})
}

func filterLogs(events []api.LogEvent, jobID, component string) []api.LogEvent {
	if jobID == "" && component == "" {
		return events
	}
	filtered := make([]api.LogEvent, 0, len(events))
	for _, evt := range events {
		if jobID != "" && evt.JobID != jobID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		filtered = append(filtered, evt)
	}
	return filtered
}

func parseLimit(value string, fallback int) int {
	limit, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func parseBool(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}

// writeServiceError maps service sentinels onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrQueueFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusServiceUnavailable
	case errors.Is(err, services.ErrTransport), errors.Is(err, services.ErrServer), errors.Is(err, services.ErrInterruptFailed):
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
