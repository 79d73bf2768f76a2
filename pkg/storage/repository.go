package storage

import (
	"context"
	"time"
)

// Health is the observed state of one backend.
type Health struct {
	Connected bool
	Healthy   bool
	LastError string
	CheckedAt time.Time
	LatencyMs float64
}

// Eligible reports whether the backend may receive writes.
func (h Health) Eligible() bool {
	return h.Connected && h.Healthy
}

// Repository is a persistence backend for readings. Implementations live in
// the repository subpackage; the router only sees this contract.
type Repository interface {
	// Name identifies the backend in policies and metrics.
	Name() string

	// Connect establishes the backend connection.
	Connect(ctx context.Context) error

	// Disconnect releases the backend connection.
	Disconnect(ctx context.Context) error

	// TestConnectivity performs an active reachability probe.
	TestConnectivity(ctx context.Context) error

	// Health returns the backend's current health snapshot.
	Health(ctx context.Context) Health

	// Write persists one reading.
	Write(ctx context.Context, r *Reading) error

	// WriteBatch persists a batch, returning how many readings were
	// written before the first failure.
	WriteBatch(ctx context.Context, rs []*Reading) (int, error)
}

// Observer receives the outcome of every backend write attempt. The
// performance tracker implements it.
type Observer interface {
	Observe(backend string, latency time.Duration, err error)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(backend string, latency time.Duration, err error)

func (f ObserverFunc) Observe(backend string, latency time.Duration, err error) {
	f(backend, latency, err)
}
