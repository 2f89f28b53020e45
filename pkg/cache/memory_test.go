package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStoreFreshStaleMiss(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore[string](WithClock(clk.Now), WithStaleGrace(time.Minute))

	s.Set("AAPL", "v1", 30*time.Second)

	v, st := s.Get("AAPL")
	assert.Equal(t, Fresh, st)
	assert.Equal(t, "v1", v)

	clk.Advance(29 * time.Second)
	_, st = s.Get("AAPL")
	assert.Equal(t, Fresh, st)

	clk.Advance(2 * time.Second)
	v, st = s.Get("AAPL")
	assert.Equal(t, Stale, st)
	assert.Equal(t, "v1", v)

	clk.Advance(time.Minute)
	v, st = s.Get("AAPL")
	assert.Equal(t, Miss, st)
	assert.Empty(t, v)

	stats := s.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.StaleHits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 0, stats.Size)
}

func TestMemoryStoreAbsentKeyIsMiss(t *testing.T) {
	s := NewMemoryStore[int]()
	_, st := s.Get("nope")
	assert.Equal(t, Miss, st)
	assert.Equal(t, uint64(1), s.Stats().Misses)
}

func TestMemoryStoreNonPositiveTTLUsesDefault(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore[int](WithClock(clk.Now), WithDefaultTTL(10*time.Second))

	s.Set("k", 1, 0)
	clk.Advance(9 * time.Second)
	_, st := s.Get("k")
	assert.Equal(t, Fresh, st)

	clk.Advance(2 * time.Second)
	_, st = s.Get("k")
	assert.Equal(t, Stale, st)
}

func TestMemoryStoreSweepExpired(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore[int](WithClock(clk.Now), WithStaleGrace(time.Minute))

	s.Set("old", 1, time.Second)
	s.Set("new", 2, time.Hour)

	clk.Advance(30 * time.Second)
	assert.Equal(t, 0, s.SweepExpired(), "stale within grace is retained")

	clk.Advance(time.Minute)
	assert.Equal(t, 1, s.SweepExpired())

	_, st := s.Get("old")
	assert.Equal(t, Miss, st)
	_, st = s.Get("new")
	assert.Equal(t, Fresh, st)
	assert.Equal(t, 1, s.Stats().Size)
}

func TestMemoryStoreDelete(t *testing.T) {
	s := NewMemoryStore[int]()
	s.Set("k", 1, time.Minute)
	s.Delete("k")
	_, st := s.Get("k")
	assert.Equal(t, Miss, st)
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	clk := newFakeClock()
	s := NewMemoryStore[int](WithClock(clk.Now), WithMemoryMaxSize(2))

	s.Set("a", 1, time.Minute)
	clk.Advance(time.Second)
	s.Set("b", 2, time.Minute)
	clk.Advance(time.Second)
	_, _ = s.Get("a")
	clk.Advance(time.Second)
	s.Set("c", 3, time.Minute)

	_, st := s.Get("b")
	assert.Equal(t, Miss, st)
	_, st = s.Get("a")
	assert.Equal(t, Fresh, st)
	_, st = s.Get("c")
	assert.Equal(t, Fresh, st)
	assert.Equal(t, uint64(1), s.Stats().Evictions)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	s := NewMemoryStore[int](WithMemoryMaxSize(0))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%10)
				s.Set(key, i*j, time.Minute)
				_, _ = s.Get(key)
				if j%50 == 0 {
					s.SweepExpired()
				}
			}
		}(i)
	}
	wg.Wait()

	stats := s.Stats()
	require.Equal(t, 10, stats.Size)
	assert.Equal(t, uint64(16*200), stats.Hits)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "stale", Stale.String())
	assert.Equal(t, "miss", Miss.String())
}
