package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// l2Envelope is the Redis representation of one entry.
type l2Envelope[V any] struct {
	Value     V         `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LayeredStore implements Store with an in-memory L1 and a Redis L2.
// Writes go to both; L1 misses fall back to L2 and repopulate L1 with the
// original expiry so freshness is judged the same way on every instance.
type LayeredStore[V any] struct {
	mem     *MemoryStore[V]
	l2      *RedisCache
	timeout time.Duration
	prefix  string

	l2Hits   atomic.Uint64
	l2Errors atomic.Uint64
}

var _ Store[int] = (*LayeredStore[int])(nil)

// NewLayeredStore wraps mem with l2. A nil l2 degrades to mem only.
func NewLayeredStore[V any](mem *MemoryStore[V], l2 *RedisCache, opts ...LayeredOption) *LayeredStore[V] {
	cfg := &LayeredConfig{
		L2Timeout: 200 * time.Millisecond,
		KeyPrefix: "store",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredStore[V]{mem: mem, l2: l2, timeout: cfg.L2Timeout, prefix: cfg.KeyPrefix}
}

func (l *LayeredStore[V]) Get(key string) (V, State) {
	v, st := l.mem.Get(key)
	if st != Miss || l.l2 == nil {
		return v, st
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	var env l2Envelope[V]
	if err := l.l2.Get(ctx, GenerateKey(l.prefix, key), &env); err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			l.l2Errors.Add(1)
		}
		return v, Miss
	}

	now := l.mem.now()
	if !now.Before(env.ExpiresAt.Add(l.mem.grace)) {
		return v, Miss
	}
	l.l2Hits.Add(1)
	l.mem.put(key, env.Value, env.CreatedAt, env.ExpiresAt)
	st = Stale
	if now.Before(env.ExpiresAt) {
		st = Fresh
	}
	l.mem.recount(st)
	return env.Value, st
}

func (l *LayeredStore[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.mem.defaultTTL
	}
	now := l.mem.now()
	l.mem.put(key, value, now, now.Add(ttl))
	if l.l2 == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	env := l2Envelope[V]{Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := l.l2.Set(ctx, GenerateKey(l.prefix, key), env, ttl+l.mem.grace); err != nil {
		l.l2Errors.Add(1)
	}
}

func (l *LayeredStore[V]) Delete(key string) {
	l.mem.Delete(key)
	if l.l2 == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.l2.Delete(ctx, GenerateKey(l.prefix, key)); err != nil {
		l.l2Errors.Add(1)
	}
}

// SweepExpired sweeps L1 only; Redis expires L2 keys itself.
func (l *LayeredStore[V]) SweepExpired() int {
	return l.mem.SweepExpired()
}

func (l *LayeredStore[V]) Stats() Stats {
	s := l.mem.Stats()
	s.L2Hits = l.l2Hits.Load()
	s.L2Errors = l.l2Errors.Load()
	return s
}
