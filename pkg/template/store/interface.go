// Package store provides the template persistence layer.
//
// Templates are keyed by template_name. Two backends are supported:
//   - SQLite (single-node, default)
//   - PostgreSQL (shared deployments)
//
// A read-through cache (see Cached) can wrap any Store; the in-memory
// backend exists for tests and ephemeral runs.
//
// Thread safety: implementations must be safe for concurrent use. Readers
// may run concurrently; writers serialize.
package store

import (
	"context"
	"sort"

	"github.com/marmos91/scalebridge/pkg/template"
)

// Store is the template persistence interface.
type Store interface {
	// List returns all templates ordered by effective priority descending.
	// The tie-break is stable: templates with equal effective priority keep
	// their name order.
	List(ctx context.Context) ([]*template.Template, error)

	// Get returns a template by name.
	// Returns template.ErrNotFound if the template doesn't exist.
	Get(ctx context.Context, name string) (*template.Template, error)

	// Save inserts or updates a template. Overwriting a built-in template
	// returns template.ErrBuiltinReadOnly, as does saving a new template
	// flagged is_builtin (built-ins enter only through seeding).
	Save(ctx context.Context, t *template.Template) error

	// Delete removes a template by name. Deleting a built-in returns
	// template.ErrBuiltinReadOnly.
	Delete(ctx context.Context, name string) error

	// BumpUsage increments the usage count, folds the outcome into the
	// exponentially smoothed success rate, and stamps last_used_at.
	BumpUsage(ctx context.Context, name string, success bool) error

	// Healthcheck verifies the backing storage is reachable.
	Healthcheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// successRateAlpha is the smoothing factor for the usage success rate.
// The rate is kept on a 0..100 scale.
const successRateAlpha = 0.2

// smoothSuccessRate folds one observation into the running rate.
func smoothSuccessRate(old float64, success bool) float64 {
	obs := 0.0
	if success {
		obs = 100.0
	}
	return successRateAlpha*obs + (1-successRateAlpha)*old
}

// sortByEffectivePriority orders templates for discovery. The input must
// already be in a deterministic order (name order) so the tie-break is
// stable.
func sortByEffectivePriority(ts []*template.Template) {
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].EffectivePriority() > ts[j].EffectivePriority()
	})
}
