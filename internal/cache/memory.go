package cache

import (
	"context"
	"encoding/json"
	"path"
	"sort"
	"sync"
	"time"
)

type memItem struct {
	data    []byte
	expires time.Time
}

// MemoryCache is a process-local Cache with the same encoding and pattern
// semantics as RedisCache.
type MemoryCache struct {
	mu     sync.Mutex
	items  map[string]memItem
	scores map[string]map[string]float64
	now    func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items:  make(map[string]memItem),
		scores: make(map[string]map[string]float64),
		now:    time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	item, ok := m.items[key]
	if ok && !item.expires.IsZero() && !m.now().Before(item.expires) {
		delete(m.items, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(item.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryCache) Put(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	item := memItem{data: data}
	if ttl > 0 {
		item.expires = m.now().Add(Jitter(ttl))
	}
	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Evict(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	delete(m.scores, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) EvictByPattern(_ context.Context, pattern string) (int64, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for key := range m.items {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.items, key)
			deleted++
		}
	}
	for key := range m.scores {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.scores, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryCache) AddScore(_ context.Context, key, member string, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.scores[key]
	if set == nil {
		set = make(map[string]float64)
		m.scores[key] = set
	}
	set[member] += delta
	return nil
}

func (m *MemoryCache) TopScores(_ context.Context, key string, n int64) ([]Score, error) {
	if n <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	out := make([]Score, 0, len(m.scores[key]))
	for member, score := range m.scores[key] {
		out = append(out, Score{Member: member, Score: score})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Member > out[j].Member
		}
		return out[i].Score > out[j].Score
	})
	if int64(len(out)) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryCache) MarkOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[key]; ok && (item.expires.IsZero() || m.now().Before(item.expires)) {
		return false, nil
	}
	item := memItem{data: []byte("1")}
	if ttl > 0 {
		item.expires = m.now().Add(ttl)
	}
	m.items[key] = item
	return true, nil
}
