package catalog

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedProducts caches a product list for a fixed TTL.
// On fetch failure, returns stale cached data if available.
type CachedProducts struct {
	source ProductLister
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	products  []Product
	fetchedAt time.Time
	loaded    bool

	group singleflight.Group
}

// NewCachedProducts wraps source with a TTL cache.
func NewCachedProducts(source ProductLister, ttl time.Duration) *CachedProducts {
	return &CachedProducts{source: source, ttl: ttl, now: time.Now}
}

// ListProducts returns the cached list while fresh, otherwise refetches.
// Concurrent callers that miss the cache share one fetch.
func (c *CachedProducts) ListProducts(ctx context.Context) ([]Product, error) {
	if products, ok := c.get(); ok {
		return products, nil
	}

	v, err, _ := c.group.Do("products", func() (any, error) {
		if products, ok := c.get(); ok {
			return products, nil
		}
		products, err := c.source.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		c.set(products)
		return products, nil
	})
	if err != nil {
		// Fall back to stale cache on transient failure
		if stale, ok := c.getStale(); ok {
			log.Printf("[catalog] using stale product list due to: %v", err)
			return stale, nil
		}
		return nil, err
	}
	return v.([]Product), nil
}

func (c *CachedProducts) get() ([]Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return c.products, true
}

func (c *CachedProducts) getStale() ([]Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.products, c.loaded
}

func (c *CachedProducts) set(products []Product) {
	c.mu.Lock()
	c.products = products
	c.fetchedAt = c.now()
	c.loaded = true
	c.mu.Unlock()
}
