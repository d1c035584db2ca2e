// Package metrics exposes pipeline counters and latencies to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/sift/internal/model"
)

const namespace = "sift"

// Metrics holds the service's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	extractions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New creates the collectors and registers them together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by platform and terminal status.",
		}, []string{"platform", "status"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extraction strategy attempts by outcome.",
		}, []string{"strategy", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end pipeline latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}, []string{"platform"}),
	}
	m.registry.MustRegister(
		m.submissions,
		m.extractions,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSubmission records a finished submission.
func (m *Metrics) ObserveSubmission(platform model.Platform, status model.Status, d time.Duration) {
	if m == nil {
		return
	}
	if platform == "" {
		platform = "unknown"
	}
	m.submissions.WithLabelValues(string(platform), string(status)).Inc()
	m.duration.WithLabelValues(string(platform)).Observe(d.Seconds())
}

// ObserveExtraction records one strategy attempt. Its signature matches
// extract.WithAttemptHook.
func (m *Metrics) ObserveExtraction(strategy string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.extractions.WithLabelValues(strategy, outcome).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
