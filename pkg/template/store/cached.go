package store

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/marmos91/scalebridge/pkg/template"
)

const (
	cacheTTL     = 5 * time.Minute
	cacheSweep   = 10 * time.Minute
	cacheListKey = "\x00list" // cannot collide with a template name
)

// Cached wraps a Store with a read-through cache. The cache is invalidated
// on every write so readers never observe stale templates longer than a
// single in-flight read.
type Cached struct {
	inner Store
	cache *gocache.Cache
}

var _ Store = (*Cached)(nil)

// NewCached wraps the given store with a read-through cache.
func NewCached(inner Store) *Cached {
	return &Cached{
		inner: inner,
		cache: gocache.New(cacheTTL, cacheSweep),
	}
}

// List returns all templates, serving repeated calls from cache.
func (c *Cached) List(ctx context.Context) ([]*template.Template, error) {
	if cached, ok := c.cache.Get(cacheListKey); ok {
		return cloneAll(cached.([]*template.Template)), nil
	}

	ts, err := c.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(cacheListKey, cloneAll(ts), gocache.DefaultExpiration)
	return ts, nil
}

// Get returns a template by name, serving repeated calls from cache.
func (c *Cached) Get(ctx context.Context, name string) (*template.Template, error) {
	if cached, ok := c.cache.Get(name); ok {
		return cached.(*template.Template).Clone(), nil
	}

	t, err := c.inner.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cache.Set(name, t.Clone(), gocache.DefaultExpiration)
	return t, nil
}

// Save writes through and invalidates the cache.
func (c *Cached) Save(ctx context.Context, t *template.Template) error {
	if err := c.inner.Save(ctx, t); err != nil {
		return err
	}
	c.invalidate(t.TemplateName)
	return nil
}

// Delete writes through and invalidates the cache.
func (c *Cached) Delete(ctx context.Context, name string) error {
	if err := c.inner.Delete(ctx, name); err != nil {
		return err
	}
	c.invalidate(name)
	return nil
}

// BumpUsage writes through and invalidates the cache: usage counters feed
// the effective priority ordering, so List must see them.
func (c *Cached) BumpUsage(ctx context.Context, name string, success bool) error {
	if err := c.inner.BumpUsage(ctx, name, success); err != nil {
		return err
	}
	c.invalidate(name)
	return nil
}

// Healthcheck delegates to the wrapped store.
func (c *Cached) Healthcheck(ctx context.Context) error {
	return c.inner.Healthcheck(ctx)
}

// Close delegates to the wrapped store.
func (c *Cached) Close() error {
	return c.inner.Close()
}

func (c *Cached) invalidate(name string) {
	c.cache.Delete(name)
	c.cache.Delete(cacheListKey)
}

func cloneAll(ts []*template.Template) []*template.Template {
	out := make([]*template.Template, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}
