package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// MemoryCache keeps panels in process memory until their TTL expires.
type MemoryCache struct {
	items *gocache.Cache
}

// NewMemoryCache creates a cache whose entries expire after ttl. A zero ttl
// keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		return &MemoryCache{items: gocache.New(gocache.NoExpiration, 0)}
	}
	return &MemoryCache{items: gocache.New(ttl, ttl*2)}
}

func (c *MemoryCache) Get(_ context.Context, referenceDate time.Time) (*domain.Panel, bool, error) {
	v, found := c.items.Get(memoryKey(referenceDate))
	if !found {
		return nil, false, nil
	}
	panel, ok := v.(*domain.Panel)
	return panel, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, panel *domain.Panel) error {
	c.items.Set(memoryKey(panel.ReferenceDate), panel, gocache.DefaultExpiration)
	return nil
}

// Len reports the number of unexpired entries.
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

func memoryKey(referenceDate time.Time) string {
	return domain.Day(referenceDate).Format(domain.DateLayout)
}
