package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	"FinPulse/internal/realtime"
	"FinPulse/pkg/logger"
)

// AssetSource is the slice of the Aggregator the scheduler uses.
type AssetSource interface {
	Resolve(symbol string) models.Instrument
	GetAssetData(ctx context.Context, symbol string) (*models.AssetData, error)
}

// Broadcaster is the slice of the registry the scheduler uses.
type Broadcaster interface {
	Symbols() []string
	Broadcast(ctx context.Context, symbol string, payload []byte) realtime.BroadcastResult
}

// UpdateSink receives every changed update after broadcast. Offer must not block.
type UpdateSink interface {
	Offer(a *models.AssetData) bool
}

type SchedulerConfig struct {
	Interval           time.Duration
	Concurrency        int
	BroadcastUnchanged bool
	Watchlist          []string
}

// TickResult summarizes one tick.
type TickResult struct {
	Targets   int           `json:"targets"`
	Fetched   int           `json:"fetched"`
	Failed    int           `json:"failed"`
	Broadcast int           `json:"broadcast"`
	Unchanged int           `json:"unchanged"`
	Duration  time.Duration `json:"duration_ns"`
}

// SchedulerStats is exposed on /api/stats.
type SchedulerStats struct {
	Ticks    uint64     `json:"ticks"`
	LastTick time.Time  `json:"last_tick"`
	Last     TickResult `json:"last"`
	Running  bool       `json:"running"`
}

// BroadcastScheduler refreshes the watchlist and every subscribed symbol
// on a fixed period and pushes changed payloads to subscribers.
type BroadcastScheduler struct {
	cfg     SchedulerConfig
	agg     AssetSource
	reg     Broadcaster
	delta   *realtime.DeltaTracker
	sink    UpdateSink
	metrics drepo.Metrics
	log     *logger.Logger

	ticks   atomic.Uint64
	running atomic.Bool
	mu      sync.Mutex
	last    TickResult
	lastAt  time.Time
}

// NewBroadcastScheduler builds a scheduler. sink may be nil.
func NewBroadcastScheduler(
	cfg SchedulerConfig,
	agg AssetSource,
	reg Broadcaster,
	delta *realtime.DeltaTracker,
	sink UpdateSink,
	metrics drepo.Metrics,
	log *logger.Logger,
) *BroadcastScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	cfg.Watchlist = canonicalWatchlist(agg, cfg.Watchlist)
	return &BroadcastScheduler{
		cfg:     cfg,
		agg:     agg,
		reg:     reg,
		delta:   delta,
		sink:    sink,
		metrics: metrics,
		log:     log,
	}
}

// Run ticks until ctx is cancelled. The next tick is timed from the end of
// the previous one, so ticks never overlap.
func (s *BroadcastScheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	s.log.Info("broadcast scheduler started",
		logger.Duration("interval", s.cfg.Interval),
		logger.Int("concurrency", s.cfg.Concurrency),
		logger.Strings("watchlist", s.cfg.Watchlist))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("broadcast scheduler stopped", logger.Uint64("ticks", s.ticks.Load()))
			return nil
		case <-timer.C:
			res := s.Tick(ctx)
			if res.Duration > s.cfg.Interval {
				s.log.Warn("tick overran interval",
					logger.Duration("took", res.Duration),
					logger.Duration("interval", s.cfg.Interval))
			}
			timer.Reset(s.cfg.Interval)
		}
	}
}

// canonicalWatchlist maps aliases to catalog symbols so that BTC and a
// subscription to BITCOIN refresh the same entry once.
func canonicalWatchlist(agg AssetSource, symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		c := agg.Resolve(sym).Symbol
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Targets is the watchlist united with every subscribed symbol, sorted.
func (s *BroadcastScheduler) Targets() []string {
	set := make(map[string]struct{}, len(s.cfg.Watchlist))
	for _, sym := range s.cfg.Watchlist {
		set[sym] = struct{}{}
	}
	for _, sym := range s.reg.Symbols() {
		set[sym] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Tick runs one refresh and broadcast pass.
func (s *BroadcastScheduler) Tick(ctx context.Context) TickResult {
	start := time.Now()
	targets := s.Targets()

	var fetched, failed, sent, unchanged atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, sym := range targets {
		sym := sym
		g.Go(func() error {
			data, err := s.agg.GetAssetData(ctx, sym)
			if err != nil {
				// Provider trouble never reaches subscribers; the symbol sits this tick out.
				failed.Add(1)
				s.log.Debug("tick fetch failed", logger.String("symbol", sym), logger.Error(err))
				return nil
			}
			fetched.Add(1)

			if !s.delta.Changed(data) && !s.cfg.BroadcastUnchanged {
				unchanged.Add(1)
				return nil
			}
			payload, err := models.EncodeUpdate(data)
			if err != nil {
				s.metrics.RecordError("encode")
				return nil
			}
			s.reg.Broadcast(ctx, data.Symbol, payload)
			sent.Add(1)
			if s.sink != nil {
				s.sink.Offer(data)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{
		Targets:   len(targets),
		Fetched:   int(fetched.Load()),
		Failed:    int(failed.Load()),
		Broadcast: int(sent.Load()),
		Unchanged: int(unchanged.Load()),
		Duration:  time.Since(start),
	}
	s.ticks.Add(1)
	s.mu.Lock()
	s.last = res
	s.lastAt = start
	s.mu.Unlock()

	s.metrics.RecordLatency("tick", res.Duration.Seconds())
	s.log.Debug("tick done",
		logger.Int("targets", res.Targets),
		logger.Int("fetched", res.Fetched),
		logger.Int("failed", res.Failed),
		logger.Int("broadcast", res.Broadcast),
		logger.Duration("took", res.Duration))
	return res
}

func (s *BroadcastScheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Ticks:    s.ticks.Load(),
		LastTick: s.lastAt,
		Last:     s.last,
		Running:  s.running.Load(),
	}
}
