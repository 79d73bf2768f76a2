// Package repository provides the persistence backends behind the storage
// router: in-memory, relational (GORM), time-series (Badger) and archive
// (S3).
package repository

import (
	"sync"
	"time"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// healthState tracks connection and failure state shared by all backends.
type healthState struct {
	mu        sync.Mutex
	connected bool
	lastError string
	checkedAt time.Time
	latencyMs float64
}

func (h *healthState) setConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = connected
	h.checkedAt = time.Now()
	if connected {
		h.lastError = ""
	}
}

// record notes the outcome of a probe or write.
func (h *healthState) record(latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkedAt = time.Now()
	h.latencyMs = float64(latency.Microseconds()) / 1000
	if err != nil {
		h.lastError = err.Error()
	} else {
		h.lastError = ""
	}
}

func (h *healthState) snapshot() storage.Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return storage.Health{
		Connected: h.connected,
		Healthy:   h.connected && h.lastError == "",
		LastError: h.lastError,
		CheckedAt: h.checkedAt,
		LatencyMs: h.latencyMs,
	}
}
