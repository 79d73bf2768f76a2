// Package repotest provides a conformance suite that every storage backend
// must pass.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// Factory builds a connected backend for one test and cleans it up via
// t.Cleanup.
type Factory func(t *testing.T) storage.Repository

func sampleReading(deviceID string, value float64) *storage.Reading {
	r := storage.NewReading(deviceID, "bench-scale", value, "kg")
	r.DataType = "weight"
	return r
}

// Run exercises the Repository contract against a backend.
func Run(t *testing.T, factory Factory) {
	t.Run("ConnectivityAndHealth", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.TestConnectivity(ctx); err != nil {
			t.Fatalf("connectivity: %v", err)
		}
		h := repo.Health(ctx)
		if !h.Connected || !h.Healthy {
			t.Errorf("health = %+v, want connected and healthy", h)
		}
		if h.CheckedAt.IsZero() {
			t.Error("health missing check timestamp")
		}
	})

	t.Run("Write", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Write(ctx, sampleReading("dev-1", 12.5)); err != nil {
			t.Fatalf("write: %v", err)
		}
	})

	t.Run("WriteBatch", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		batch := []*storage.Reading{
			sampleReading("dev-1", 1),
			sampleReading("dev-1", 2),
			sampleReading("dev-2", 3),
		}
		n, err := repo.WriteBatch(ctx, batch)
		if err != nil {
			t.Fatalf("write batch: %v", err)
		}
		if n != len(batch) {
			t.Errorf("written = %d, want %d", n, len(batch))
		}
	})

	t.Run("WriteBatchEmpty", func(t *testing.T) {
		repo := factory(t)
		n, err := repo.WriteBatch(context.Background(), nil)
		if err != nil {
			t.Fatalf("empty batch: %v", err)
		}
		if n != 0 {
			t.Errorf("written = %d, want 0", n)
		}
	})

	t.Run("DisconnectMarksUnhealthy", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Disconnect(ctx); err != nil {
			t.Fatalf("disconnect: %v", err)
		}
		h := repo.Health(ctx)
		if h.Eligible() {
			t.Errorf("health = %+v, want ineligible after disconnect", h)
		}
	})

	t.Run("WriteLatencyRecorded", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Write(ctx, sampleReading("dev-1", 7)); err != nil {
			t.Fatalf("write: %v", err)
		}
		h := repo.Health(ctx)
		if h.CheckedAt.Before(time.Now().Add(-time.Minute)) {
			t.Errorf("health not refreshed by write: %+v", h)
		}
	})
}
