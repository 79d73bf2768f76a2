package metrics

// StabilityMetrics provides observability for the signal stability monitor.
//
// Pass nil to disable metrics collection with zero overhead.
type StabilityMetrics interface {
	// RecordReport records one analysis report: the signal state name and
	// the 0-100 stability score.
	RecordReport(state string, score float64)

	// RecordSample records an incoming sample and whether the validity
	// filter accepted it.
	RecordSample(valid bool)

	// RecordDropout records a detected signal dropout.
	RecordDropout()
}

// NewStabilityMetrics creates a Prometheus-backed StabilityMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStabilityMetrics() StabilityMetrics {
	if !IsEnabled() || newPrometheusStabilityMetrics == nil {
		return nil
	}
	return newPrometheusStabilityMetrics()
}

var newPrometheusStabilityMetrics func() StabilityMetrics

// RegisterStabilityMetricsConstructor registers the Prometheus stability
// metrics constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterStabilityMetricsConstructor(constructor func() StabilityMetrics) {
	newPrometheusStabilityMetrics = constructor
}

// RecordReport records an analysis report if metrics are enabled.
func RecordReport(m StabilityMetrics, state string, score float64) {
	if m != nil {
		m.RecordReport(state, score)
	}
}
