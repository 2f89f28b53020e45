package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"FinPulse/internal/domain/models"
	domrepo "FinPulse/internal/domain/repository"
	"FinPulse/pkg/logger"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, a *models.AssetData) error
	ProcessBatch(ctx context.Context, items []*models.AssetData) error
}

// UpdatePipeline sits between the broadcast scheduler and the backends.
// Offer never blocks the tick: updates are validated, throttled per
// symbol, buffered, then flushed in batches with retry.
type UpdatePipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	log     *logger.Logger

	maxRPS       int
	bufSize      int
	batchSize    int
	batchTimeout time.Duration
	maxRetries   int
	backoffMin   time.Duration
	backoffMax   time.Duration

	in       chan *models.AssetData
	mu       sync.Mutex
	lastSeen map[string]time.Time
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
}

type PipelineOption func(*UpdatePipeline)

// WithMaxRPS caps accepted updates per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *UpdatePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets how many updates may wait for the backend.
func WithBufferSize(n int) PipelineOption {
	return func(p *UpdatePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBatching flushes after size updates or timeout, whichever is first.
func WithBatching(size int, timeout time.Duration) PipelineOption {
	return func(p *UpdatePipeline) {
		if size > 0 {
			p.batchSize = size
		}
		if timeout > 0 {
			p.batchTimeout = timeout
		}
	}
}

// WithRetry sets attempts per batch and the capped backoff between them.
func WithRetry(max int, backoffMin, backoffMax time.Duration) PipelineOption {
	return func(p *UpdatePipeline) {
		if max >= 0 {
			p.maxRetries = max
		}
		if backoffMin > 0 {
			p.backoffMin = backoffMin
		}
		if backoffMax > 0 {
			p.backoffMax = backoffMax
		}
	}
}

func NewUpdatePipeline(proc Proc, metrics domrepo.Metrics, log *logger.Logger, opts ...PipelineOption) *UpdatePipeline {
	p := &UpdatePipeline{
		proc:         proc,
		metrics:      metrics,
		log:          log,
		maxRPS:       20,
		bufSize:      1000,
		batchSize:    100,
		batchTimeout: time.Second,
		maxRetries:   3,
		backoffMin:   50 * time.Millisecond,
		backoffMax:   2 * time.Second,
		lastSeen:     make(map[string]time.Time),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.in = make(chan *models.AssetData, p.bufSize)
	return p
}

// Start launches the flushing loop.
func (p *UpdatePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop flushes what is buffered and stops the loop, or gives up when ctx ends.
func (p *UpdatePipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer validates, throttles and enqueues a. It reports whether a was accepted.
func (p *UpdatePipeline) Offer(a *models.AssetData) bool {
	if err := validateUpdate(a); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return false
	}
	if !p.allow(a.Symbol, time.Now()) {
		p.metrics.RecordError("pipeline_throttle")
		return false
	}
	select {
	case p.in <- a:
		return true
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		return false
	}
}

// Depth is the number of buffered updates.
func (p *UpdatePipeline) Depth() int {
	return len(p.in)
}

func (p *UpdatePipeline) run(ctx context.Context) {
	defer close(p.done)

	batch := make([]*models.AssetData, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.flush(ctx, batch)
		batch = make([]*models.AssetData, 0, p.batchSize)
	}

	for {
		select {
		case a := <-p.in:
			batch = append(batch, a)
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(p.batchTimeout)
		case <-p.stopCh:
			for {
				select {
				case a := <-p.in:
					batch = append(batch, a)
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *UpdatePipeline) flush(ctx context.Context, batch []*models.AssetData) {
	start := time.Now()
	backoff := p.backoffMin
	for attempt := 0; ; attempt++ {
		var err error
		if len(batch) == 1 {
			err = p.proc.Process(ctx, batch[0])
		} else {
			err = p.proc.ProcessBatch(ctx, batch)
		}
		if err == nil {
			p.metrics.RecordLatency("pipeline_flush", time.Since(start).Seconds())
			return
		}

		p.metrics.RecordError("pipeline_flush")
		if attempt >= p.maxRetries {
			p.metrics.RecordError("pipeline_drop")
			p.log.Error("dropping updates after retries",
				logger.Int("count", len(batch)),
				logger.Int("attempts", attempt+1),
				logger.Error(err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff *= 2; backoff > p.backoffMax {
			backoff = p.backoffMax
		}
	}
}

func validateUpdate(a *models.AssetData) error {
	switch {
	case a == nil:
		return errors.New("update nil")
	case a.Symbol == "":
		return errors.New("symbol empty")
	case a.Bar.Timestamp.IsZero():
		return errors.New("timestamp invalid")
	case a.Bar.Price <= 0:
		return errors.New("price must be positive")
	}
	return nil
}

func (p *UpdatePipeline) allow(symbol string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
