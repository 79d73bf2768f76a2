// Package prometheus provides the Prometheus implementations of the
// scalebridge metrics interfaces. Importing this package registers every
// constructor with pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/scalebridge/pkg/metrics"
	"github.com/marmos91/scalebridge/pkg/storage"
)

func init() {
	metrics.RegisterStorageObserverConstructor(NewStorageObserver)
	metrics.RegisterDiscoveryMetricsConstructor(NewDiscoveryMetrics)
	metrics.RegisterStabilityMetricsConstructor(NewStabilityMetrics)
}

// storageObserver is the Prometheus implementation of storage.Observer.
type storageObserver struct {
	writes        *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
}

// NewStorageObserver creates a Prometheus-backed storage.Observer.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStorageObserver() storage.Observer {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &storageObserver{
		writes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "scalebridge_storage_writes_total",
				Help: "Total number of storage write attempts by backend and status",
			},
			[]string{"backend", "status"}, // status: "ok", "error"
		),
		writeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "scalebridge_storage_write_duration_milliseconds",
				Help: "Duration of storage writes in milliseconds",
				Buckets: []float64{
					0.5,  // in-memory and embedded backends
					1,    // 1ms
					5,    // 5ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms - remote database round trip
					500,  // 500ms
					1000, // 1s
					5000, // 5s - object storage worst case
				},
			},
			[]string{"backend"},
		),
	}
}

func (m *storageObserver) Observe(backend string, latency time.Duration, err error) {
	if m == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.writes.WithLabelValues(backend, status).Inc()
	m.writeDuration.WithLabelValues(backend).Observe(latency.Seconds() * 1000)
}
