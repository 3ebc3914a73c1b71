// Package observability exposes Prometheus metrics for the proctoring
// pipeline.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all registered collectors. Metrics are registered on a
// dedicated registry so tests can create instances independently.
type Metrics struct {
	registry *prometheus.Registry

	FramesAnalyzed        prometheus.Counter
	FrameAnalysisDuration prometheus.Histogram
	FrameDecodeErrors     prometheus.Counter
	ViolationsTotal       *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
	SessionsTotal         *prometheus.CounterVec
}

// NewMetrics initializes and registers all pipeline metrics.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FramesAnalyzed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proctor_frames_analyzed_total",
		Help: "Total number of frames run through the detection pipeline.",
	})
	m.FrameAnalysisDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proctor_frame_analysis_duration_seconds",
		Help:    "Per-frame analysis latency including CV inference.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
	m.FrameDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proctor_frame_decode_errors_total",
		Help: "Total number of frames rejected because the bytes could not be decoded.",
	})
	m.ViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_violations_total",
		Help: "Violations emitted, partitioned by type and severity.",
	}, []string{"type", "severity"})
	m.ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proctor_active_sessions",
		Help: "Number of currently active proctoring sessions.",
	})
	m.SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_sessions_total",
		Help: "Sessions finished, partitioned by terminal status.",
	}, []string{"status"})

	collectors := []prometheus.Collector{
		m.FramesAnalyzed,
		m.FrameAnalysisDuration,
		m.FrameDecodeErrors,
		m.ViolationsTotal,
		m.ActiveSessions,
		m.SessionsTotal,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
