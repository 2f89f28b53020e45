package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/services/indicators"
	"FinPulse/pkg/cache"
	"FinPulse/pkg/logger"
	"FinPulse/pkg/util"
)

// AggregatorConfig tunes caching and upstream access.
type AggregatorConfig struct {
	TTL             time.Duration
	ClosedMarketTTL time.Duration // 0 keeps TTL outside market hours
	FetchTimeout    time.Duration
	HistoryCapacity int
	UpstreamLimit   int64
	Warmup          bool
}

func (c *AggregatorConfig) withDefaults() {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = 200
	}
	if c.UpstreamLimit <= 0 {
		c.UpstreamLimit = 5
	}
}

// AggregatorStats is exposed on /api/stats.
type AggregatorStats struct {
	Symbols        int    `json:"symbols"`
	InFlight       int64  `json:"in_flight"`
	UpstreamCalls  uint64 `json:"upstream_calls"`
	UpstreamErrors uint64 `json:"upstream_errors"`
	NotFound       uint64 `json:"not_found"`
	StaleServed    uint64 `json:"stale_served"`
	Shared         uint64 `json:"shared_fetches"`
}

// Aggregator turns symbols into AssetData: cache first, then one upstream
// fetch per symbol at a time, indicators over the in-memory history, and
// the last good value when the upstream is down.
type Aggregator struct {
	cfg     AggregatorConfig
	catalog *models.Catalog
	source  drepo.SourceAdapter
	cache   cache.Store[*models.AssetData]
	metrics drepo.Metrics
	log     *logger.Logger
	now     func() time.Time

	sf  singleflight.Group
	sem *semaphore.Weighted

	mu      sync.Mutex
	history map[string]*barRing

	inFlight       atomic.Int64
	upstreamCalls  atomic.Uint64
	upstreamErrors atomic.Uint64
	notFound       atomic.Uint64
	staleServed    atomic.Uint64
	shared         atomic.Uint64
}

// AggregatorOption configures optional collaborators.
type AggregatorOption func(*Aggregator)

// WithClock replaces time.Now. The cache should share the same clock.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(
	cfg AggregatorConfig,
	catalog *models.Catalog,
	source drepo.SourceAdapter,
	store cache.Store[*models.AssetData],
	metrics drepo.Metrics,
	log *logger.Logger,
	opts ...AggregatorOption,
) *Aggregator {
	cfg.withDefaults()
	a := &Aggregator{
		cfg:     cfg,
		catalog: catalog,
		source:  source,
		cache:   store,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		sem:     semaphore.NewWeighted(cfg.UpstreamLimit),
		history: make(map[string]*barRing),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolve maps a client symbol to its catalog instrument.
func (a *Aggregator) Resolve(symbol string) models.Instrument {
	return a.catalog.Resolve(symbol)
}

// GetAssetData returns fresh data from the cache or the upstream. When the
// upstream is unavailable it falls back to the last cached value flagged
// stale. NotFound is returned as is and never cached.
//
// Concurrent callers for the same symbol share one fetch. The fetch runs
// on its own deadline, so a caller that gives up does not cancel it for
// the others.
func (a *Aggregator) GetAssetData(ctx context.Context, symbol string) (*models.AssetData, error) {
	in := a.catalog.Resolve(symbol)
	if in.Symbol == "" {
		return nil, models.NotFound("aggregator", symbol, errors.New("empty symbol"))
	}

	v, state := a.cache.Get(in.Symbol)
	a.metrics.RecordCacheLookup(state.String())
	if state == cache.Fresh {
		return v, nil
	}

	ch := a.sf.DoChan(in.Symbol, func() (interface{}, error) {
		return a.refresh(context.WithoutCancel(ctx), in)
	})
	select {
	case <-ctx.Done():
		return nil, models.Unavailable("aggregator", in.Symbol, ctx.Err())
	case res := <-ch:
		if res.Shared {
			a.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.AssetData), nil
	}
}

// Peek returns whatever the cache holds for symbol without touching the
// upstream.
func (a *Aggregator) Peek(symbol string) (*models.AssetData, cache.State) {
	return a.cache.Get(a.catalog.Canonical(symbol))
}

func (a *Aggregator) refresh(ctx context.Context, in models.Instrument) (*models.AssetData, error) {
	// A fetch that finished while we waited to start may already be cached.
	if v, state := a.cache.Get(in.Symbol); state == cache.Fresh {
		return v, nil
	}

	a.inFlight.Add(1)
	defer a.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancel()

	cold := a.cfg.Warmup && a.historyLen(in.Symbol) == 0

	start := time.Now()
	bar, seed, err := a.fetch(ctx, in, cold)
	a.metrics.RecordLatency("fetch", time.Since(start).Seconds())
	if err != nil {
		return a.fallback(in, err)
	}

	hist := a.historyFor(in.Symbol)
	if cold {
		if seed == nil {
			seed = a.backfill(ctx, in)
		}
		a.seed(in, hist, seed, bar.Timestamp)
	}
	if !hist.Append(*bar) {
		// the cached value never moves back in time
		if newest, ok := hist.Latest(); ok {
			a.log.Debug("older bar ignored",
				logger.String("symbol", in.Symbol),
				logger.Time("bar_ts", bar.Timestamp),
				logger.Time("newest_ts", newest.Timestamp))
			bar = &newest
		}
	}

	now := a.now()
	data := &models.AssetData{
		Symbol:     in.Symbol,
		Name:       in.Name,
		Type:       in.Type,
		Bar:        *bar,
		Indicators: indicators.Compute(in.Symbol, hist.Snapshot(), now),
		History:    hist.Len(),
		ComputedAt: now,
	}
	a.cache.Set(in.Symbol, data, a.ttlFor(in, now))
	a.metrics.RecordLastPrice(in.Symbol, bar.Price)
	return data, nil
}

// fetch returns the latest bar. With withHistory set it also returns recent
// bars when the source can deliver both in one call; a nil slice means it
// could not.
func (a *Aggregator) fetch(ctx context.Context, in models.Instrument, withHistory bool) (*models.Bar, []models.Bar, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, models.Unavailable("aggregator", in.Symbol, fmt.Errorf("upstream budget: %w", err))
	}
	defer a.sem.Release(1)

	a.upstreamCalls.Add(1)
	var (
		bar  *models.Bar
		hist []models.Bar
		err  error
	)
	if hf, ok := a.source.(drepo.HistoryFetcher); ok && withHistory {
		bar, hist, err = hf.FetchWithHistory(ctx, in, a.cfg.HistoryCapacity-1)
	} else {
		bar, err = a.source.Fetch(ctx, in)
	}
	if err != nil {
		a.metrics.RecordUpstreamCall(sourceOf(err, a.source.Name()), resultOf(err))
		if !models.IsNotFound(err) && !models.IsUnavailable(err) {
			err = models.Unavailable(a.source.Name(), in.Symbol, err)
		}
		return nil, nil, err
	}
	if bar == nil || bar.Price <= 0 {
		a.metrics.RecordUpstreamCall(a.source.Name(), "invalid")
		return nil, nil, models.Unavailable(a.source.Name(), in.Symbol, errors.New("empty quote"))
	}

	a.metrics.RecordUpstreamCall(bar.Source, "ok")
	bar.Symbol = in.Symbol
	bar.Type = in.Type
	if bar.Timestamp.IsZero() {
		bar.Timestamp = a.now().UTC()
	}
	return bar, hist, nil
}

func (a *Aggregator) fallback(in models.Instrument, err error) (*models.AssetData, error) {
	if models.IsNotFound(err) {
		a.notFound.Add(1)
		a.log.Debug("symbol not found", logger.String("symbol", in.Symbol), logger.Error(err))
		return nil, err
	}

	a.upstreamErrors.Add(1)
	a.metrics.RecordError("upstream")
	if v, state := a.cache.Get(in.Symbol); state != cache.Miss {
		a.staleServed.Add(1)
		a.log.Warn("serving stale data",
			logger.String("symbol", in.Symbol),
			logger.Duration("age", a.now().Sub(v.ComputedAt)),
			logger.Error(err))
		return v.AsStale(), nil
	}
	a.log.Warn("upstream unavailable", logger.String("symbol", in.Symbol), logger.Error(err))
	return nil, err
}

// backfill asks the source for recent history in a separate call. Failures
// only cost indicator coverage.
func (a *Aggregator) backfill(ctx context.Context, in models.Instrument) []models.Bar {
	bf, ok := a.source.(drepo.Backfiller)
	if !ok {
		return nil
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil
	}
	bars, err := bf.Backfill(ctx, in, a.cfg.HistoryCapacity-1)
	a.sem.Release(1)
	if err != nil {
		a.log.Warn("history warmup failed", logger.String("symbol", in.Symbol), logger.Error(err))
		return nil
	}
	return bars
}

// seed fills an empty window with the bars older than the one just fetched.
func (a *Aggregator) seed(in models.Instrument, hist *barRing, bars []models.Bar, before time.Time) {
	seed := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(before) {
			b.Symbol = in.Symbol
			b.Type = in.Type
			seed = append(seed, b)
		}
	}
	hist.Seed(seed)
	a.log.Debug("history warmed up", logger.String("symbol", in.Symbol), logger.Int("bars", len(seed)))
}

func (a *Aggregator) historyLen(symbol string) int {
	a.mu.Lock()
	h, ok := a.history[symbol]
	a.mu.Unlock()
	if !ok {
		return 0
	}
	return h.Len()
}

func (a *Aggregator) historyFor(symbol string) *barRing {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.history[symbol]
	if !ok {
		h = newBarRing(a.cfg.HistoryCapacity)
		a.history[symbol] = h
	}
	return h
}

func (a *Aggregator) ttlFor(in models.Instrument, now time.Time) time.Duration {
	if a.cfg.ClosedMarketTTL <= 0 {
		return a.cfg.TTL
	}
	switch in.Type {
	case models.Equity, models.Commodity:
		if !util.IsUSMarketOpen(now) {
			return a.cfg.ClosedMarketTTL
		}
	}
	return a.cfg.TTL
}

// History returns up to limit bars newer than since, oldest first. The
// second result is false when the symbol has never been fetched.
func (a *Aggregator) History(symbol string, since time.Time, limit int) ([]models.Bar, bool) {
	a.mu.Lock()
	h, ok := a.history[a.catalog.Canonical(symbol)]
	a.mu.Unlock()
	if !ok {
		return nil, false
	}
	return h.Since(since, limit), true
}

func (a *Aggregator) Stats() AggregatorStats {
	a.mu.Lock()
	n := len(a.history)
	a.mu.Unlock()
	return AggregatorStats{
		Symbols:        n,
		InFlight:       a.inFlight.Load(),
		UpstreamCalls:  a.upstreamCalls.Load(),
		UpstreamErrors: a.upstreamErrors.Load(),
		NotFound:       a.notFound.Load(),
		StaleServed:    a.staleServed.Load(),
		Shared:         a.shared.Load(),
	}
}

// CacheStats exposes the underlying store counters.
func (a *Aggregator) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// SweepCache drops entries past their stale grace.
func (a *Aggregator) SweepCache() int {
	return a.cache.SweepExpired()
}

func sourceOf(err error, def string) string {
	var se *models.SourceError
	if errors.As(err, &se) && se.Source != "" {
		return se.Source
	}
	return def
}

func resultOf(err error) string {
	switch {
	case models.IsNotFound(err):
		return "not_found"
	case models.IsUnavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}
