package usecase

import (
	"time"

	"github.com/go-co-op/gocron"

	drepo "FinPulse/internal/domain/repository"
	"FinPulse/pkg/cache"
	"FinPulse/pkg/logger"
)

// CacheKeeper is the part of the Aggregator housekeeping touches.
type CacheKeeper interface {
	SweepCache() int
	CacheStats() cache.Stats
}

// ConnectionCounter reports live subscribers.
type ConnectionCounter interface {
	Count() int
}

type HousekeepingConfig struct {
	SweepInterval time.Duration
	GaugeInterval time.Duration
}

// Housekeeping runs periodic maintenance on a gocron scheduler. Jobs run
// in singleton mode, so a slow run is skipped rather than stacked.
type Housekeeping struct {
	cfg     HousekeepingConfig
	cron    *gocron.Scheduler
	cache   CacheKeeper
	conns   ConnectionCounter
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewHousekeeping(cfg HousekeepingConfig, keeper CacheKeeper, conns ConnectionCounter, metrics drepo.Metrics, log *logger.Logger) *Housekeeping {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.GaugeInterval <= 0 {
		cfg.GaugeInterval = 15 * time.Second
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Housekeeping{
		cfg:     cfg,
		cron:    s,
		cache:   keeper,
		conns:   conns,
		metrics: metrics,
		log:     log,
	}
}

// Start registers the jobs and runs them asynchronously. Each job also
// runs once immediately.
func (h *Housekeeping) Start() error {
	if _, err := h.cron.Every(h.cfg.SweepInterval).Tag("cache_sweep").Do(h.sweep); err != nil {
		return err
	}
	if _, err := h.cron.Every(h.cfg.GaugeInterval).Tag("gauges").Do(h.refreshGauges); err != nil {
		return err
	}
	h.cron.StartAsync()
	h.log.Info("housekeeping started",
		logger.Duration("sweep_interval", h.cfg.SweepInterval),
		logger.Duration("gauge_interval", h.cfg.GaugeInterval))
	return nil
}

func (h *Housekeeping) Stop() {
	h.cron.Stop()
}

func (h *Housekeeping) sweep() {
	start := time.Now()
	n := h.cache.SweepCache()
	h.metrics.RecordLatency("cache_sweep", time.Since(start).Seconds())
	if n > 0 {
		h.log.Debug("cache swept", logger.Int("removed", n))
	}
}

func (h *Housekeeping) refreshGauges() {
	st := h.cache.CacheStats()
	h.metrics.SetCacheStats(st.Size, st.Evictions)
	h.metrics.SetConnections(h.conns.Count())
}
