package metrics

import "time"

// DiscoveryMetrics provides observability for protocol discovery sessions.
//
// Implementations record phase transitions, captured frame volume and
// session outcomes. This interface is optional - pass nil to disable
// metrics collection with zero overhead.
type DiscoveryMetrics interface {
	// RecordPhase records a session entering a phase.
	RecordPhase(phase string)

	// RecordFramesCaptured records how many frames a baseline capture
	// collected before analysis started.
	RecordFramesCaptured(count int)

	// RecordTemplateTest records one template scoring pass with the
	// confidence it produced.
	RecordTemplateTest(template string, confidence float64)

	// RecordSessionResult records a finished session: its terminal phase,
	// the winning confidence (zero when none) and the total session
	// duration.
	RecordSessionResult(phase string, confidence float64, elapsed time.Duration)
}

// NewDiscoveryMetrics creates a Prometheus-backed DiscoveryMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDiscoveryMetrics() DiscoveryMetrics {
	if !IsEnabled() || newPrometheusDiscoveryMetrics == nil {
		return nil
	}
	return newPrometheusDiscoveryMetrics()
}

var newPrometheusDiscoveryMetrics func() DiscoveryMetrics

// RegisterDiscoveryMetricsConstructor registers the Prometheus discovery
// metrics constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterDiscoveryMetricsConstructor(constructor func() DiscoveryMetrics) {
	newPrometheusDiscoveryMetrics = constructor
}

// RecordPhase records a phase transition if metrics are enabled.
func RecordPhase(m DiscoveryMetrics, phase string) {
	if m != nil {
		m.RecordPhase(phase)
	}
}

// RecordSessionResult records a session outcome if metrics are enabled.
func RecordSessionResult(m DiscoveryMetrics, phase string, confidence float64, elapsed time.Duration) {
	if m != nil {
		m.RecordSessionResult(phase, confidence, elapsed)
	}
}
