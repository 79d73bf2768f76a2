package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/scalebridge/pkg/template"
)

// MemoryStore is an in-memory template store for tests and ephemeral runs.
// It is seeded with the built-in catalog like the persistent backends.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an in-memory store seeded with the built-in catalog.
func NewMemory() (*MemoryStore, error) {
	builtins, err := template.Builtins()
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*template.Template, len(builtins))
	for _, t := range builtins {
		templates[t.TemplateName] = t
	}
	return &MemoryStore{templates: templates}, nil
}

// List returns all templates ordered by effective priority descending.
func (s *MemoryStore) List(ctx context.Context) ([]*template.Template, error) {
	s.mu.RLock()
	out := make([]*template.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].TemplateName < out[j].TemplateName
	})
	sortByEffectivePriority(out)
	return out, nil
}

// Get returns a template by name.
func (s *MemoryStore) Get(ctx context.Context, name string) (*template.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return nil, template.ErrNotFound
	}
	return t.Clone(), nil
}

// Save inserts or updates a template.
func (s *MemoryStore) Save(ctx context.Context, t *template.Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.IsBuiltin {
		return template.ErrBuiltinReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := t.Clone()
	if existing, ok := s.templates[t.TemplateName]; ok {
		if existing.IsBuiltin {
			return template.ErrBuiltinReadOnly
		}
		stored.CreatedAt = existing.CreatedAt
		stored.UsageCount = existing.UsageCount
		stored.SuccessRate = existing.SuccessRate
		stored.LastUsedAt = existing.LastUsedAt
	} else {
		stored.CreatedAt = now
	}
	stored.ModifiedAt = now
	s.templates[t.TemplateName] = stored
	return nil
}

// Delete removes a template by name.
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[name]
	if !ok {
		return template.ErrNotFound
	}
	if t.IsBuiltin {
		return template.ErrBuiltinReadOnly
	}
	delete(s.templates, name)
	return nil
}

// BumpUsage updates the usage counters for a template.
func (s *MemoryStore) BumpUsage(ctx context.Context, name string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[name]
	if !ok {
		return template.ErrNotFound
	}

	now := time.Now().UTC()
	t.UsageCount++
	t.SuccessRate = smoothSuccessRate(t.SuccessRate, success)
	t.LastUsedAt = &now
	return nil
}

// Healthcheck always succeeds for the in-memory store.
func (s *MemoryStore) Healthcheck(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
