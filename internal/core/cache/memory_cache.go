package cache

import (
	"context"
	"sync"
	"time"

	"github.com/t2t2-app/t2t2/internal/models"
)

// memoryCache is a process-local fallback used when no Redis address is
// configured. Progress does not survive a restart, which matches the
// lifetime of the in-process jobs it tracks.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]models.IndexProgress
}

func NewMemoryCache() ProgressCache {
	return &memoryCache{entries: make(map[string]models.IndexProgress)}
}

func (c *memoryCache) SetProgress(_ context.Context, userID string, p models.IndexProgress) error {
	p.UpdatedAt = time.Now().UTC()
	c.mu.Lock()
	c.entries[userID] = p
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) GetProgress(_ context.Context, userID string) (*models.IndexProgress, error) {
	c.mu.RLock()
	p, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrNoProgress
	}
	return &p, nil
}

func (c *memoryCache) Close() error { return nil }
