package metrics

import (
	"time"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// NewStorageObserver creates a Prometheus-backed storage.Observer recording
// per-backend write outcomes and latencies.
//
// Returns nil if metrics are not enabled (InitRegistry not called). A nil
// observer is safe to set on the router and costs nothing.
//
// Example usage:
//
//	metrics.InitRegistry()
//	router.SetObserver(metrics.NewStorageObserver())
func NewStorageObserver() storage.Observer {
	if !IsEnabled() || newPrometheusStorageObserver == nil {
		return nil
	}
	return newPrometheusStorageObserver()
}

// newPrometheusStorageObserver is implemented in pkg/metrics/prometheus.
// The indirection avoids an import cycle while keeping the API clean.
var newPrometheusStorageObserver func() storage.Observer

// RegisterStorageObserverConstructor registers the Prometheus storage
// observer constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterStorageObserverConstructor(constructor func() storage.Observer) {
	newPrometheusStorageObserver = constructor
}

// MultiObserver fans one write outcome out to several observers. Nil entries
// are skipped, so disabled metrics compose cleanly with the performance
// tracker.
func MultiObserver(obs ...storage.Observer) storage.Observer {
	var active []storage.Observer
	for _, o := range obs {
		if o != nil {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return nil
	}
	return storage.ObserverFunc(func(backend string, latency time.Duration, err error) {
		for _, o := range active {
			o.Observe(backend, latency, err)
		}
	})
}
