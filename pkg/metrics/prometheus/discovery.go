package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/scalebridge/pkg/metrics"
)

// discoveryMetrics is the Prometheus implementation of metrics.DiscoveryMetrics.
type discoveryMetrics struct {
	phases          *prometheus.CounterVec
	framesCaptured  prometheus.Histogram
	templateTests   *prometheus.CounterVec
	testConfidence  *prometheus.HistogramVec
	sessionOutcomes *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
}

// NewDiscoveryMetrics creates a Prometheus-backed DiscoveryMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDiscoveryMetrics() metrics.DiscoveryMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &discoveryMetrics{
		phases: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalebridge_discovery_phase_transitions_total",
				Help: "Total number of discovery phase transitions by phase entered",
			},
			[]string{"phase"},
		),
		framesCaptured: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scalebridge_discovery_baseline_frames",
				Help:    "Frames captured per baseline pass before analysis",
				Buckets: []float64{0, 5, 10, 20, 50, 100, 250, 500, 1000},
			},
		),
		templateTests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalebridge_discovery_template_tests_total",
				Help: "Total number of template scoring passes by template",
			},
			[]string{"template"},
		),
		testConfidence: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scalebridge_discovery_template_confidence",
				Help:    "Confidence score distribution per template",
				Buckets: []float64{10, 25, 50, 70, 85, 95, 100},
			},
			[]string{"template"},
		),
		sessionOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalebridge_discovery_sessions_total",
				Help: "Total number of finished discovery sessions by terminal phase",
			},
			[]string{"phase"},
		),
		sessionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "scalebridge_discovery_session_duration_seconds",
				Help: "End to end discovery session duration in seconds",
				Buckets: []float64{
					1,    // phase A on a chatty device
					5,    // 5s
					15,   // 15s
					30,   // baseline timeout
					60,   // 1m
					300,  // interactive session with several steps
					900,  // 15m
					3600, // idle sessions swept at the TTL
				},
			},
			[]string{"phase"},
		),
	}
}

func (m *discoveryMetrics) RecordPhase(phase string) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phase).Inc()
}

func (m *discoveryMetrics) RecordFramesCaptured(count int) {
	if m == nil {
		return
	}
	m.framesCaptured.Observe(float64(count))
}

func (m *discoveryMetrics) RecordTemplateTest(template string, confidence float64) {
	if m == nil {
		return
	}
	m.templateTests.WithLabelValues(template).Inc()
	m.testConfidence.WithLabelValues(template).Observe(confidence)
}

func (m *discoveryMetrics) RecordSessionResult(phase string, confidence float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sessionOutcomes.WithLabelValues(phase).Inc()
	m.sessionDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}
