package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	"FinPulse/pkg/cache"
	"FinPulse/pkg/logger"
	"FinPulse/pkg/metrics"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeSource returns an increasing price per call. gate, when set, blocks
// every call until it is closed. at, when set, stamps call n.
type fakeSource struct {
	calls atomic.Int32
	clock *fakeClock
	gate  chan struct{}
	at    func(n int32) time.Time

	mu  sync.Mutex
	err error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSource) Fetch(ctx context.Context, in models.Instrument) (*models.Bar, error) {
	n := s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, models.Unavailable("fake", in.Symbol, ctx.Err())
		}
	}
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ts := time.Now().UTC()
	switch {
	case s.at != nil:
		ts = s.at(n)
	case s.clock != nil:
		ts = s.clock.Now()
	}
	return &models.Bar{Price: 100 + float64(n), Source: "fake", Timestamp: ts}, nil
}

// backfillSource adds history to fakeSource.
type backfillSource struct {
	*fakeSource
	bars int
}

func (s *backfillSource) Backfill(_ context.Context, in models.Instrument, limit int) ([]models.Bar, error) {
	now := s.clock.Now()
	out := make([]models.Bar, 0, s.bars)
	for i := s.bars; i > 0; i-- {
		out = append(out, models.Bar{Symbol: in.Symbol, Price: 90 + float64(i%7), Timestamp: now.Add(-time.Duration(i) * 5 * time.Minute)})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// historySource returns history with the quote and counts the separate
// Backfill calls it should never need.
type historySource struct {
	*backfillSource
	withHistory atomic.Int32
	backfills   atomic.Int32
}

func (s *historySource) FetchWithHistory(ctx context.Context, in models.Instrument, limit int) (*models.Bar, []models.Bar, error) {
	s.withHistory.Add(1)
	bar, err := s.Fetch(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	bars, _ := s.backfillSource.Backfill(ctx, in, limit)
	return bar, bars, nil
}

func (s *historySource) Backfill(ctx context.Context, in models.Instrument, limit int) ([]models.Bar, error) {
	s.backfills.Add(1)
	return s.backfillSource.Backfill(ctx, in, limit)
}

func newTestMetrics() *metrics.Recorder {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

func newTestAggregator(src drepo.SourceAdapter, clock *fakeClock, cfg AggregatorConfig) *Aggregator {
	store := cache.NewMemoryStore[*models.AssetData](
		cache.WithDefaultTTL(30*time.Second),
		cache.WithStaleGrace(5*time.Minute),
		cache.WithClock(clock.Now),
	)
	return NewAggregator(cfg, models.NewCatalog(models.DefaultInstruments), src, store,
		newTestMetrics(), logger.Nop(), WithClock(clock.Now))
}
