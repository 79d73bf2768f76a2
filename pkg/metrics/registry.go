// Package metrics defines the observability interfaces for scalebridge
// components and manages the shared Prometheus registry.
//
// All interfaces in this package are optional: pass nil to disable metrics
// collection with zero overhead. Concrete implementations live in
// pkg/metrics/prometheus and register themselves through the constructor
// hooks below, which keeps this package free of an import cycle with the
// implementation package.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the shared metrics registry and enables metrics
// collection. Must be called before any component constructors run so that
// IsEnabled reports true when collectors are built. Calling it twice is a
// no-op.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the shared registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// Handler returns the HTTP handler serving the /metrics endpoint. When
// metrics are disabled the handler answers 404.
func Handler() http.Handler {
	registryMu.RLock()
	reg := registry
	registryMu.RUnlock()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
