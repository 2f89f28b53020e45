package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a minimum spacing between calls to one upstream.
type Gate struct {
	lim *rate.Limiter
}

// NewGate allows one call per minInterval with the given burst. A
// non-positive interval disables spacing.
func NewGate(minInterval time.Duration, burst int) *Gate {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Gate{lim: rate.NewLimiter(limit, burst)}
}

// Wait blocks until the next call may proceed or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	return g.lim.Wait(ctx)
}

// Allow consumes a slot without waiting.
func (g *Gate) Allow() bool {
	return g.lim.Allow()
}

// Limiter hands out one Gate per upstream key, so adapters that share a
// provider also share its spacing.
type Limiter struct {
	mu sync.Mutex
	m  map[string]*Gate
}

func New() *Limiter { return &Limiter{m: make(map[string]*Gate)} }

// Gate returns the gate for key, creating it on first use. Later calls
// ignore minInterval and burst.
func (l *Limiter) Gate(key string, minInterval time.Duration, burst int) *Gate {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.m[key]
	if !ok {
		g = NewGate(minInterval, burst)
		l.m[key] = g
	}
	return g
}

// Allow reports whether key may proceed now. Unknown keys are allowed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	g := l.m[key]
	l.mu.Unlock()
	return g == nil || g.Allow()
}
