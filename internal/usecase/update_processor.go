package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
)

// Backend names accepted by backend.type.
const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
)

// UpdateProcessor routes updates to the configured backend and, when set,
// mirrors them to Redis.
type UpdateProcessor struct {
	pub       drepo.Publisher
	store     drepo.Storage
	mirror    drepo.SnapshotMirror
	mirrorTTL time.Duration
	metrics   drepo.Metrics
	backend   string
}

// NewUpdateProcessor creates a processor. pub, store and mirror may be nil
// when their backend is not in use.
func NewUpdateProcessor(
	pub drepo.Publisher,
	store drepo.Storage,
	mirror drepo.SnapshotMirror,
	mirrorTTL time.Duration,
	metrics drepo.Metrics,
	backend string,
) (*UpdateProcessor, error) {
	switch backend {
	case "", BackendNone:
		backend = BackendNone
	case BackendKafka:
		if pub == nil {
			return nil, errors.New("kafka backend needs a publisher")
		}
	case BackendClickHouse:
		if store == nil {
			return nil, errors.New("clickhouse backend needs storage")
		}
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
	return &UpdateProcessor{
		pub:       pub,
		store:     store,
		mirror:    mirror,
		mirrorTTL: mirrorTTL,
		metrics:   metrics,
		backend:   backend,
	}, nil
}

func (p *UpdateProcessor) Backend() string { return p.backend }

// Process sends one update to the backend.
func (p *UpdateProcessor) Process(ctx context.Context, a *models.AssetData) error {
	if a == nil {
		return errors.New("update is nil")
	}
	start := time.Now()

	var err error
	switch p.backend {
	case BackendKafka:
		err = p.pub.Publish(ctx, a)
	case BackendClickHouse:
		bar := a.Bar
		err = p.store.Store(ctx, &bar)
	}
	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process update %s: %w", a.Symbol, err)
	}
	if p.backend != BackendNone {
		p.metrics.RecordMessageSent(p.backend, a.Symbol)
	}

	if p.mirror != nil {
		if err := p.mirror.Mirror(ctx, a, p.mirrorTTL); err != nil {
			p.metrics.RecordError("mirror")
			return err
		}
		p.metrics.RecordMessageSent("redis", a.Symbol)
	}

	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch sends several updates in one backend call.
func (p *UpdateProcessor) ProcessBatch(ctx context.Context, items []*models.AssetData) error {
	if len(items) == 0 {
		return nil
	}
	start := time.Now()

	var err error
	switch p.backend {
	case BackendKafka:
		err = p.pub.PublishBatch(ctx, items)
	case BackendClickHouse:
		bars := make([]*models.Bar, len(items))
		for i, a := range items {
			bar := a.Bar
			bars[i] = &bar
		}
		err = p.store.StoreBatch(ctx, bars)
	}
	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}

	for _, a := range items {
		if p.backend != BackendNone {
			p.metrics.RecordMessageSent(p.backend, a.Symbol)
		}
		if p.mirror != nil {
			if err := p.mirror.Mirror(ctx, a, p.mirrorTTL); err != nil {
				p.metrics.RecordError("mirror")
				return err
			}
			p.metrics.RecordMessageSent("redis", a.Symbol)
		}
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *UpdateProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	if p.mirror != nil {
		_ = p.mirror.Close()
	}
}
