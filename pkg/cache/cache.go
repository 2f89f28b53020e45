package cache

import (
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// State is the freshness of a cache lookup.
type State int

const (
	Miss State = iota
	Fresh
	Stale
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      uint64  `json:"hits"`
	StaleHits uint64  `json:"stale_hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
	L2Hits    uint64  `json:"l2_hits,omitempty"`
	L2Errors  uint64  `json:"l2_errors,omitempty"`
}

// Store is a TTL cache that keeps expired entries readable as Stale until a
// grace period elapses.
type Store[V any] interface {
	Get(key string) (V, State)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
	SweepExpired() int
	Stats() Stats
}

func hitRate(hits, stale, misses uint64) float64 {
	total := hits + stale + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
