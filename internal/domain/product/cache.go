package product

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var _ Repository = (*CachedRepository)(nil)

// CachedRepository wraps a Repository with a TTL read cache for the catalog
// listing. Storefront pages hit List on every render, so concurrent misses are
// collapsed into a single upstream query via singleflight.
//
// Point lookups (GetByID, GetByIDs) bypass the cache: they feed stock
// reconciliation before checkout and must observe current counts.
type CachedRepository struct {
	inner Repository
	ttl   time.Duration

	group singleflight.Group

	mu        sync.RWMutex
	list      []Product
	fetchedAt time.Time
}

// NewCachedRepository creates a CachedRepository with the given TTL.
// A non-positive TTL disables caching and every List call goes upstream.
func NewCachedRepository(inner Repository, ttl time.Duration) *CachedRepository {
	return &CachedRepository{inner: inner, ttl: ttl}
}

// List returns the cached catalog when fresh, otherwise fetches it upstream.
func (c *CachedRepository) List(ctx context.Context) ([]Product, error) {
	if c.ttl > 0 {
		c.mu.RLock()
		fresh := c.list != nil && time.Since(c.fetchedAt) < c.ttl
		cached := c.list
		c.mu.RUnlock()
		if fresh {
			return cached, nil
		}
	}

	v, err, _ := c.group.Do("list", func() (interface{}, error) {
		products, err := c.inner.List(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.list = products
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return products, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Product), nil
}

// GetByID delegates to the wrapped repository.
func (c *CachedRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	return c.inner.GetByID(ctx, id)
}

// GetByIDs delegates to the wrapped repository.
func (c *CachedRepository) GetByIDs(ctx context.Context, ids []string) ([]Product, error) {
	return c.inner.GetByIDs(ctx, ids)
}
