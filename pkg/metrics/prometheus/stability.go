package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/scalebridge/pkg/metrics"
)

// stabilityMetrics is the Prometheus implementation of metrics.StabilityMetrics.
type stabilityMetrics struct {
	reports  *prometheus.CounterVec
	score    prometheus.Gauge
	samples  *prometheus.CounterVec
	dropouts prometheus.Counter
}

// NewStabilityMetrics creates a Prometheus-backed StabilityMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStabilityMetrics() metrics.StabilityMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &stabilityMetrics{
		reports: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalebridge_stability_reports_total",
				Help: "Total number of stability analysis reports by signal state",
			},
			[]string{"state"},
		),
		score: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "scalebridge_stability_score",
				Help: "Most recent signal stability score (0-100)",
			},
		),
		samples: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalebridge_stability_samples_total",
				Help: "Total number of signal samples by filter outcome",
			},
			[]string{"outcome"}, // "valid", "invalid"
		),
		dropouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "scalebridge_stability_dropouts_total",
				Help: "Total number of detected signal dropouts",
			},
		),
	}
}

func (m *stabilityMetrics) RecordReport(state string, score float64) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(state).Inc()
	m.score.Set(score)
}

func (m *stabilityMetrics) RecordSample(valid bool) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	m.samples.WithLabelValues(outcome).Inc()
}

func (m *stabilityMetrics) RecordDropout() {
	if m == nil {
		return
	}
	m.dropouts.Inc()
}
