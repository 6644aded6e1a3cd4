// Package metrics exposes prometheus collectors for the job controller.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "finisher"

	statusLabel   = "status"
	passLabel     = "pass"
	resultLabel   = "result"
	decisionLabel = "decision"
)

// Metrics owns a private registry so tests and multiple daemons never collide
// on the global default registerer.
type Metrics struct {
	registry *prometheus.Registry

	jobsEnqueued   prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	polls          *prometheus.CounterVec
	interrupts     *prometheus.CounterVec
	ownership      *prometheus.CounterVec
	pendingJobs    prometheus.Gauge
	activeJobs     prometheus.Gauge
	serverProgress prometheus.Gauge
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New builds and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "number of jobs accepted into the queue",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "number of jobs reaching a terminal status",
		}, []string{statusLabel}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "wall time of each successful processing pass",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{passLabel}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_polls_total",
			Help:      "progress polls partitioned by result",
		}, []string{resultLabel}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "interrupt requests partitioned by result",
		}, []string{resultLabel}),
		ownership: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ownership_decisions_total",
			Help:      "ownership classifications of server activity",
		}, []string{decisionLabel}),
		pendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_jobs",
			Help:      "jobs waiting for admission",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "jobs currently running or cancelling (0 or 1)",
		}),
		serverProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_progress_ratio",
			Help:      "last progress fraction reported by the generation server",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests partitioned by status code, method and HTTP path.",
		}, []string{"code", "method", "path"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_milliseconds",
			Help:      "Time spent on the request partitioned by status code, method and HTTP path.",
			Buckets:   []float64{5, 50, 300, 1000, 5000},
		}, []string{"code", "method", "path"}),
	}
	m.registry.MustRegister(
		m.jobsEnqueued,
		m.jobsFinished,
		m.passDuration,
		m.polls,
		m.interrupts,
		m.ownership,
		m.pendingJobs,
		m.activeJobs,
		m.serverProgress,
		m.requests,
		m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rp := rctx.RoutePattern()
			since := float64(time.Since(start).Milliseconds())
			m.requests.WithLabelValues(strconv.Itoa(ww.Status()), r.Method, rp).Inc()
			m.latency.WithLabelValues(strconv.Itoa(ww.Status()), r.Method, rp).Observe(since)
		}
	})
}

func (m *Metrics) JobEnqueued(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.jobsEnqueued.Add(float64(count))
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinished.With(prometheus.Labels{statusLabel: status}).Inc()
}

func (m *Metrics) PassCompleted(pass string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.With(prometheus.Labels{passLabel: pass}).Observe(elapsed.Seconds())
}

// PollSucceeded records a successful progress fetch and its reported fraction.
func (m *Metrics) PollSucceeded(progress float64) {
	if m == nil {
		return
	}
	m.polls.With(prometheus.Labels{resultLabel: "ok"}).Inc()
	m.serverProgress.Set(progress)
}

func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.polls.With(prometheus.Labels{resultLabel: "error"}).Inc()
}

func (m *Metrics) Interrupt(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.interrupts.With(prometheus.Labels{resultLabel: result}).Inc()
}

func (m *Metrics) Ownership(decision string) {
	if m == nil {
		return
	}
	m.ownership.With(prometheus.Labels{decisionLabel: decision}).Inc()
}

// QueueDepth updates the pending and active gauges.
func (m *Metrics) QueueDepth(pending int, active bool) {
	if m == nil {
		return
	}
	m.pendingJobs.Set(float64(pending))
	if active {
		m.activeJobs.Set(1)
	} else {
		m.activeJobs.Set(0)
	}
}
