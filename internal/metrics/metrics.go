// Package metrics exposes the pipeline's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipforge"

type Metrics struct {
	registry *prometheus.Registry

	projects      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	clips         *prometheus.CounterVec
	candidates    prometheus.Histogram
	retention     prometheus.Counter
	inFlight      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		projects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_total",
			Help:      "Projects that reached a terminal status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage", "outcome"}),
		clips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_total",
			Help:      "Materialized clips by platform and result.",
		}, []string{"platform", "status"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_per_project",
			Help:      "Candidates kept after validation.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50},
		}),
		retention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_deleted_total",
			Help:      "Projects removed by the retention sweep.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projects_in_flight",
			Help:      "Projects currently being processed by this instance.",
		}),
	}

	m.registry.MustRegister(
		m.projects, m.stageDuration, m.clips, m.candidates, m.retention, m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ProjectFinished(status string) {
	if m == nil {
		return
	}
	m.projects.WithLabelValues(status).Inc()
}

// ObserveStage records the time since started under stage, with outcome
// "ok" or "error".
func (m *Metrics) ObserveStage(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ClipMaterialized(platform, status string) {
	if m == nil {
		return
	}
	m.clips.WithLabelValues(platform, status).Inc()
}

func (m *Metrics) CandidatesFound(n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
}

func (m *Metrics) RetentionDeleted(n int) {
	if m == nil {
		return
	}
	m.retention.Add(float64(n))
}

// TrackInFlight increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
