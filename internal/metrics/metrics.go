// Package metrics exposes prometheus metrics for correction jobs, model calls
// and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/corrector/internal/model"
)

const namespace = "corrector"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsQueued   prometheus.Counter
	jobsRejected *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	queueDepth   prometheus.Gauge

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_queued_total",
			Help:      "Correction jobs accepted into the queue",
		}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Student exams that could not be enqueued",
		}, []string{"reason"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Correction jobs that reached a terminal state",
		}, []string{"state"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to terminal state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"state"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "AI scoring calls by model and outcome",
		}, []string{"model", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Duration of AI scoring calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.jobsQueued, m.jobsRejected, m.jobsFinished, m.jobDuration,
		m.modelCalls, m.modelLatency, m.queueDepth,
		m.requests, m.requestDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) JobQueued() { m.jobsQueued.Inc() }

func (m *Metrics) JobRejected(reason string) { m.jobsRejected.WithLabelValues(reason).Inc() }

func (m *Metrics) JobFinished(state model.JobState, elapsed time.Duration) {
	m.jobsFinished.WithLabelValues(string(state)).Inc()
	m.jobDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
}

func (m *Metrics) ModelCall(modelName string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.modelCalls.WithLabelValues(modelName, outcome).Inc()
	m.modelLatency.WithLabelValues(modelName).Observe(elapsed.Seconds())
}

func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware counts requests by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
