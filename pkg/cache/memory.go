package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

type memoryItem[V any] struct {
	value      V
	createdAt  time.Time
	expiresAt  time.Time
	lastAccess time.Time
}

// MemoryStore implements Store in process memory with LRU eviction at MaxSize.
type MemoryStore[V any] struct {
	mu         sync.Mutex
	data       map[string]*memoryItem[V]
	defaultTTL time.Duration
	grace      time.Duration
	maxSize    int
	now        func() time.Time

	hits      atomic.Uint64
	staleHits atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

var _ Store[int] = (*MemoryStore[int])(nil)

// NewMemoryStore creates an in-memory store.
func NewMemoryStore[V any](opts ...MemoryOption) *MemoryStore[V] {
	cfg := &MemoryConfig{
		MaxSize:    2000,
		DefaultTTL: 30 * time.Second,
		StaleGrace: 5 * time.Minute,
		Clock:      time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &MemoryStore[V]{
		data:       make(map[string]*memoryItem[V]),
		defaultTTL: cfg.DefaultTTL,
		grace:      cfg.StaleGrace,
		maxSize:    cfg.MaxSize,
		now:        cfg.Clock,
	}
}

func (m *MemoryStore[V]) Get(key string) (V, State) {
	var zero V
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.data[key]
	if !ok {
		m.misses.Add(1)
		return zero, Miss
	}
	if now.Before(item.expiresAt) {
		item.lastAccess = now
		m.hits.Add(1)
		return item.value, Fresh
	}
	if now.Before(item.expiresAt.Add(m.grace)) {
		item.lastAccess = now
		m.staleHits.Add(1)
		return item.value, Stale
	}

	delete(m.data, key)
	m.evictions.Add(1)
	m.misses.Add(1)
	return zero, Miss
}

// Set stores value for ttl; ttl <= 0 uses the default TTL.
func (m *MemoryStore[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := m.now()
	m.put(key, value, now, now.Add(ttl))
}

func (m *MemoryStore[V]) put(key string, value V, createdAt, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; !exists && m.maxSize > 0 && len(m.data) >= m.maxSize {
		m.evictLRU()
	}
	m.data[key] = &memoryItem[V]{
		value:      value,
		createdAt:  createdAt,
		expiresAt:  expiresAt,
		lastAccess: createdAt,
	}
}

// recount turns the miss just recorded for a key into a hit of state st,
// once an outer tier has served it.
func (m *MemoryStore[V]) recount(st State) {
	m.misses.Add(^uint64(0))
	switch st {
	case Fresh:
		m.hits.Add(1)
	case Stale:
		m.staleHits.Add(1)
	}
}

func (m *MemoryStore[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

// SweepExpired removes entries stale for longer than the grace period.
func (m *MemoryStore[V]) SweepExpired() int {
	cut := m.now().Add(-m.grace)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, item := range m.data {
		if !item.expiresAt.After(cut) {
			delete(m.data, key)
			n++
		}
	}
	m.evictions.Add(uint64(n))
	return n
}

func (m *MemoryStore[V]) Stats() Stats {
	m.mu.Lock()
	size := len(m.data)
	m.mu.Unlock()

	hits, stale, misses := m.hits.Load(), m.staleHits.Load(), m.misses.Load()
	return Stats{
		Hits:      hits,
		StaleHits: stale,
		Misses:    misses,
		Evictions: m.evictions.Load(),
		Size:      size,
		HitRate:   hitRate(hits, stale, misses),
	}
}

// evictLRU drops the least recently read entry. Caller holds mu.
func (m *MemoryStore[V]) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, item := range m.data {
		if oldestKey == "" || item.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = item.lastAccess
		}
	}
	if oldestKey != "" {
		delete(m.data, oldestKey)
		m.evictions.Add(1)
	}
}
