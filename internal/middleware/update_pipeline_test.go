package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPulse/internal/domain/models"
	"FinPulse/pkg/logger"
	"FinPulse/pkg/metrics"
)

type recordingProc struct {
	mu       sync.Mutex
	batches  [][]string
	failures int
}

func (r *recordingProc) record(items []*models.AssetData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("broker down")
	}
	syms := make([]string, len(items))
	for i, a := range items {
		syms[i] = a.Symbol
	}
	r.batches = append(r.batches, syms)
	return nil
}

func (r *recordingProc) Process(_ context.Context, a *models.AssetData) error {
	return r.record([]*models.AssetData{a})
}

func (r *recordingProc) ProcessBatch(_ context.Context, items []*models.AssetData) error {
	return r.record(items)
}

func (r *recordingProc) symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func update(symbol string) *models.AssetData {
	return &models.AssetData{Symbol: symbol, Bar: models.Bar{Symbol: symbol, Price: 10, Timestamp: time.Now()}}
}

func newPipeline(proc Proc, opts ...PipelineOption) *UpdatePipeline {
	return NewUpdatePipeline(proc, metrics.NewWithRegistry(prometheus.NewRegistry()), logger.Nop(), opts...)
}

func TestPipelineFlushesOnStop(t *testing.T) {
	proc := &recordingProc{}
	p := newPipeline(proc, WithBatching(100, time.Hour))
	p.Start(context.Background())

	for _, s := range []string{"AAPL", "MSFT", "TSLA"} {
		require.True(t, p.Offer(update(s)))
	}
	require.NoError(t, p.Stop(context.Background()))
	assert.ElementsMatch(t, []string{"AAPL", "MSFT", "TSLA"}, proc.symbols())
}

func TestPipelineFlushesOnBatchSize(t *testing.T) {
	proc := &recordingProc{}
	p := newPipeline(proc, WithBatching(2, time.Hour))
	p.Start(context.Background())
	defer p.Stop(context.Background())

	p.Offer(update("A"))
	p.Offer(update("B"))
	require.Eventually(t, func() bool { return len(proc.symbols()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	p := newPipeline(&recordingProc{}, WithMaxRPS(1))
	assert.True(t, p.Offer(update("AAPL")))
	assert.False(t, p.Offer(update("AAPL")))
	assert.True(t, p.Offer(update("MSFT")))
}

func TestPipelineRejectsInvalid(t *testing.T) {
	p := newPipeline(&recordingProc{})
	assert.False(t, p.Offer(nil))
	assert.False(t, p.Offer(&models.AssetData{Symbol: "X"}))
	bad := update("X")
	bad.Bar.Price = 0
	assert.False(t, p.Offer(bad))
}

func TestPipelineBufferFullDoesNotBlock(t *testing.T) {
	p := newPipeline(&recordingProc{}, WithBufferSize(1), WithMaxRPS(0))
	assert.True(t, p.Offer(update("A")))
	assert.False(t, p.Offer(update("B")))
	assert.Equal(t, 1, p.Depth())
}

func TestPipelineRetriesThenSucceeds(t *testing.T) {
	proc := &recordingProc{failures: 2}
	p := newPipeline(proc, WithBatching(1, time.Hour), WithRetry(3, time.Millisecond, 2*time.Millisecond))
	p.Start(context.Background())
	defer p.Stop(context.Background())

	p.Offer(update("AAPL"))
	require.Eventually(t, func() bool { return len(proc.symbols()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPipelineDropsAfterRetries(t *testing.T) {
	proc := &recordingProc{failures: 10}
	p := newPipeline(proc, WithBatching(1, time.Hour), WithRetry(1, time.Millisecond, time.Millisecond))
	p.Start(context.Background())

	p.Offer(update("AAPL"))
	require.NoError(t, p.Stop(context.Background()))
	assert.Empty(t, proc.symbols())
	proc.mu.Lock()
	assert.Equal(t, 8, proc.failures, "one attempt plus one retry")
	proc.mu.Unlock()
}
