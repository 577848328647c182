package catalog

import (
	"context"
	"sync"
	"time"
)

// Cache serves the active service list from memory and refreshes it from the
// repository once it is older than ttl. A failed refresh falls back to the
// last good copy when there is one.
type Cache struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	services  []Service
	refreshed time.Time
}

func NewCache(repo Repository, ttl time.Duration) *Cache {
	return &Cache{repo: repo, ttl: ttl, now: time.Now}
}

func (c *Cache) ActiveServices(ctx context.Context) ([]Service, error) {
	c.mu.RLock()
	fresh := c.services != nil && c.now().Sub(c.refreshed) < c.ttl
	services := c.services
	c.mu.RUnlock()
	if fresh {
		return services, nil
	}

	loaded, err := c.repo.ListActiveServices(ctx)
	if err != nil {
		if services != nil {
			return services, nil
		}
		return nil, err
	}
	if loaded == nil {
		loaded = []Service{}
	}

	c.mu.Lock()
	c.services = loaded
	c.refreshed = c.now()
	c.mu.Unlock()
	return loaded, nil
}

func (c *Cache) Service(ctx context.Context, id int64) (*Service, error) {
	services, err := c.ActiveServices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].ID == id {
			s := services[i]
			return &s, nil
		}
	}
	return c.repo.GetService(ctx, id)
}
