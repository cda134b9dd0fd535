package cache

import (
	"context"
	"sync"
	"time"

	"fleet-route-service/internal/ports"
)

// MemoryDistanceCache is a process-local cache used in tests and as the
// per-run cache of the solver's internal matrix. Safe for concurrent use.
type MemoryDistanceCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     ports.DistanceResult
	expiresAt time.Time
}

func NewMemoryDistanceCache() *MemoryDistanceCache {
	return &MemoryDistanceCache{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func (m *MemoryDistanceCache) Get(_ context.Context, key string) (ports.DistanceResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || (!e.expiresAt.IsZero() && e.expiresAt.Before(m.now())) {
		return ports.DistanceResult{}, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryDistanceCache) GetMany(ctx context.Context, keys []string) (map[string]ports.DistanceResult, error) {
	out := make(map[string]ports.DistanceResult, len(keys))
	for _, k := range keys {
		if v, ok, _ := m.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryDistanceCache) Set(_ context.Context, key string, value ports.DistanceResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Len reports how many entries are stored, expired included.
func (m *MemoryDistanceCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
