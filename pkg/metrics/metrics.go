// Package metrics holds the Prometheus collectors for the ingest and query
// paths. All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medrag"

// Metrics is one registry and its collectors.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	stageErrors    *prometheus.CounterVec
	chunksIngested *prometheus.CounterVec
	ingestJobs     *prometheus.CounterVec
	answers        *prometheus.CounterVec
	answerDuration prometheus.Histogram
	generation     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// New creates a registry with process and Go runtime collectors plus the
// pipeline collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Pipeline stage failures.",
		}, []string{"stage"}),
		chunksIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_ingested_total",
			Help:      "Chunks written to the vector index.",
		}, []string{"book"}),
		ingestJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_jobs_total",
			Help:      "Asynchronous ingestion jobs by result.",
		}, []string{"result"}),
		answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Answers produced, by status.",
		}, []string{"status"}),
		answerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "End-to-end question answering latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		generation: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Generation attempts by model and result.",
		}, []string{"model", "result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code class.",
		}, []string{"route", "code"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStage records one stage run.
func (m *Metrics) ObserveStage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

// AddChunks counts chunks stored for book.
func (m *Metrics) AddChunks(book string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksIngested.WithLabelValues(book).Add(float64(n))
}

// IngestJob counts a worker job outcome ("ok", "retry", "dead_letter").
func (m *Metrics) IngestJob(result string) {
	if m == nil {
		return
	}
	m.ingestJobs.WithLabelValues(result).Inc()
}

// ObserveAnswer records an answer's status and latency.
func (m *Metrics) ObserveAnswer(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.answers.WithLabelValues(status).Inc()
	m.answerDuration.Observe(d.Seconds())
}

// GenerationAttempt counts one call to a model.
func (m *Metrics) GenerationAttempt(model string, ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.generation.WithLabelValues(model, result).Inc()
}

// HTTPRequest counts a served request. code is bucketed to its class.
func (m *Metrics) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, codeClass(code)).Inc()
}

func codeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "1xx"
}
