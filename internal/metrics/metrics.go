// Package metrics exposes Prometheus collectors for HTTP traffic, validation,
// uploads, correction runs and LLM usage.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jackzampolin/swaggerfix/internal/providers"
)

const namespace = "swaggerfix"

// Metrics holds the collectors, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	validations *prometheus.CounterVec
	problems    *prometheus.CounterVec
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Histogram

	runs        *prometheus.CounterVec
	runAttempts prometheus.Histogram
	activeRuns  prometheus.Gauge

	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, including Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// httpRequests counts requests by method, route and status
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Document validations by detected version and outcome",
		}, []string{"version", "outcome"}),

		problems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_problems_total",
			Help:      "Validation problems reported by rule and severity",
		}, []string{"rule", "severity"}),

		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by source and outcome",
		}, []string{"source", "outcome"}),

		uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of accepted uploads in bytes",
			Buckets:   prometheus.ExponentialBuckets(512, 4, 8), // 512B to ~8MB
		}),

		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by kind and final status",
		}, []string{"kind", "status"}),

		runAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_correction_attempts",
			Help:      "Correction attempts per run",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),

		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_active_runs",
			Help:      "Runs currently holding a worker slot",
		}),

		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM calls by provider, model and outcome",
		}, []string{"provider", "model", "outcome"}),

		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens by provider and direction",
		}, []string{"provider", "direction"}),

		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "LLM call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}, []string{"provider"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records a finished HTTP request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ProblemCount is a rule/severity pair for ObserveValidation.
type ProblemCount struct {
	Rule     string
	Severity string
}

// ObserveValidation records a validation result.
func (m *Metrics) ObserveValidation(version string, valid bool, problems []ProblemCount) {
	if m == nil {
		return
	}
	if version == "" {
		version = "unknown"
	}
	m.validations.WithLabelValues(version, outcome(valid, "valid", "invalid")).Inc()
	for _, p := range problems {
		m.problems.WithLabelValues(p.Rule, p.Severity).Inc()
	}
}

// ObserveUpload records an upload attempt. size is ignored for failures.
func (m *Metrics) ObserveUpload(source string, ok bool, size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(source, outcome(ok, "ok", "error")).Inc()
	if ok {
		m.uploadBytes.Observe(float64(size))
	}
}

// RunStarted and RunFinished bracket a pipeline run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished records a run's final status and attempt count.
func (m *Metrics) RunFinished(kind, status string, attempts int) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(kind, status).Inc()
	if kind == "correct" {
		m.runAttempts.Observe(float64(attempts))
	}
}

// RecordLLMCall records usage from a chat result.
func (m *Metrics) RecordLLMCall(result *providers.ChatResult) {
	if m == nil || result == nil {
		return
	}
	provider := result.Provider
	if provider == "" {
		provider = "unknown"
	}
	m.llmCalls.WithLabelValues(provider, result.ModelUsed, outcome(result.Success, "success", "error")).Inc()
	m.llmTokens.WithLabelValues(provider, "prompt").Add(float64(result.PromptTokens))
	m.llmTokens.WithLabelValues(provider, "completion").Add(float64(result.CompletionTokens))
	if result.ExecutionTime > 0 {
		m.llmLatency.WithLabelValues(provider).Observe(result.ExecutionTime.Seconds())
	}
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
