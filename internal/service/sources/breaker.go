package sources

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/domain/repository"
	"FinPulse/pkg/logger"
)

// BreakerConfig controls when an adapter's circuit opens.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Unavailable results in a row that open the circuit
	OpenTimeout         time.Duration // how long the circuit stays open before a probe
	Interval            time.Duration // closed-state counter reset period
}

// Breaker guards one adapter with a circuit breaker. Only Unavailable
// results count as failures; NotFound is the caller's problem, not the
// upstream's. While open, calls fail fast with Unavailable.
type Breaker struct {
	inner repository.SourceAdapter
	cb    *gobreaker.CircuitBreaker[*models.Bar]
}

var (
	_ repository.SourceAdapter  = (*Breaker)(nil)
	_ repository.HistoryFetcher = (*Breaker)(nil)
)

func NewBreaker(inner repository.SourceAdapter, cfg BreakerConfig, log *logger.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	threshold := cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[*models.Bar](gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !models.IsUnavailable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("source circuit state changed",
				logger.String("source", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return &Breaker{inner: inner, cb: cb}
}

func (b *Breaker) Name() string { return b.inner.Name() }

// State is "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

func (b *Breaker) Fetch(ctx context.Context, in models.Instrument) (*models.Bar, error) {
	bar, err := b.cb.Execute(func() (*models.Bar, error) {
		return b.inner.Fetch(ctx, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, models.Unavailable(b.inner.Name(), in.Symbol, err)
	}
	return bar, err
}

// FetchWithHistory counts like Fetch. History is nil when the inner
// adapter cannot deliver it with the quote.
func (b *Breaker) FetchWithHistory(ctx context.Context, in models.Instrument, limit int) (*models.Bar, []models.Bar, error) {
	var hist []models.Bar
	bar, err := b.cb.Execute(func() (*models.Bar, error) {
		if hf, ok := b.inner.(repository.HistoryFetcher); ok {
			bar, h, err := hf.FetchWithHistory(ctx, in, limit)
			hist = h
			return bar, err
		}
		return b.inner.Fetch(ctx, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, nil, models.Unavailable(b.inner.Name(), in.Symbol, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return bar, hist, nil
}

// Backfill is not counted by the breaker, but is refused while it is open.
func (b *Breaker) Backfill(ctx context.Context, in models.Instrument, limit int) ([]models.Bar, error) {
	bf, ok := b.inner.(repository.Backfiller)
	if !ok {
		return nil, nil
	}
	if b.cb.State() == gobreaker.StateOpen {
		return nil, models.Unavailable(b.inner.Name(), in.Symbol, gobreaker.ErrOpenState)
	}
	return bf.Backfill(ctx, in, limit)
}
