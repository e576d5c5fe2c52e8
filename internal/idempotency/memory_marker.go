package idempotency

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryMarker is a process local fallback. It only deduplicates deliveries that hit the
// same instance.
type MemoryMarker struct {
	cache *cache.Cache
}

func NewMemoryMarker(ttl time.Duration) *MemoryMarker {
	return &MemoryMarker{cache: cache.New(ttl, ttl)}
}

func (m *MemoryMarker) Name() string { return "memory" }

// Mark relies on cache.Add failing when a live item exists.
func (m *MemoryMarker) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return m.cache.Add(key, struct{}{}, ttl) == nil, nil
}

func (m *MemoryMarker) Release(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
