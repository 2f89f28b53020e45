package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPulse/internal/domain/models"
	pkgkafka "FinPulse/pkg/kafka"
)

type memPublisher struct {
	mu    sync.Mutex
	items []*models.AssetData
	err   error
}

func (p *memPublisher) Publish(_ context.Context, a *models.AssetData) error {
	return p.PublishBatch(context.Background(), []*models.AssetData{a})
}

func (p *memPublisher) PublishBatch(_ context.Context, items []*models.AssetData) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.items = append(p.items, items...)
	p.mu.Unlock()
	return nil
}

func (p *memPublisher) Close() error { return nil }

type memStorage struct {
	mu   sync.Mutex
	bars []*models.Bar
}

func (s *memStorage) Init(context.Context) error { return nil }

func (s *memStorage) Store(ctx context.Context, b *models.Bar) error {
	return s.StoreBatch(ctx, []*models.Bar{b})
}

func (s *memStorage) StoreBatch(_ context.Context, bars []*models.Bar) error {
	s.mu.Lock()
	s.bars = append(s.bars, bars...)
	s.mu.Unlock()
	return nil
}

func (s *memStorage) Query(context.Context, string, time.Time, time.Time, int) ([]*models.Bar, error) {
	return nil, nil
}

func (s *memStorage) Health(context.Context) error { return nil }
func (s *memStorage) Close() error                 { return nil }

type memMirror struct {
	mu  sync.Mutex
	got map[string]time.Duration
}

func (m *memMirror) Mirror(_ context.Context, a *models.AssetData, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.got == nil {
		m.got = map[string]time.Duration{}
	}
	m.got[a.Symbol] = ttl
	return nil
}

func (m *memMirror) Close() error { return nil }

func sampleUpdate(symbol string) *models.AssetData {
	return &models.AssetData{
		Symbol: symbol,
		Type:   models.Equity,
		Bar:    models.Bar{Symbol: symbol, Type: models.Equity, Price: 12.5, Source: "yahoo", Timestamp: time.UnixMilli(1_741_100_400_000).UTC()},
	}
}

func TestUpdateProcessorBackendValidation(t *testing.T) {
	_, err := NewUpdateProcessor(nil, nil, nil, 0, newTestMetrics(), "kafka")
	assert.Error(t, err)
	_, err = NewUpdateProcessor(nil, nil, nil, 0, newTestMetrics(), "clickhouse")
	assert.Error(t, err)
	_, err = NewUpdateProcessor(nil, nil, nil, 0, newTestMetrics(), "s3")
	assert.Error(t, err)

	p, err := NewUpdateProcessor(nil, nil, nil, 0, newTestMetrics(), "")
	require.NoError(t, err)
	assert.Equal(t, BackendNone, p.Backend())
	assert.NoError(t, p.Process(context.Background(), sampleUpdate("AAPL")))
}

func TestUpdateProcessorRoutes(t *testing.T) {
	pub := &memPublisher{}
	mirror := &memMirror{}
	p, err := NewUpdateProcessor(pub, nil, mirror, time.Minute, newTestMetrics(), BackendKafka)
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), sampleUpdate("AAPL")))
	require.NoError(t, p.ProcessBatch(context.Background(), []*models.AssetData{sampleUpdate("MSFT"), sampleUpdate("TSLA")}))
	assert.Len(t, pub.items, 3)
	assert.Equal(t, time.Minute, mirror.got["TSLA"])

	store := &memStorage{}
	p, err = NewUpdateProcessor(nil, store, nil, 0, newTestMetrics(), BackendClickHouse)
	require.NoError(t, err)
	require.NoError(t, p.ProcessBatch(context.Background(), []*models.AssetData{sampleUpdate("AAPL"), sampleUpdate("MSFT")}))
	require.Len(t, store.bars, 2)
	assert.Equal(t, "MSFT", store.bars[1].Symbol)
}

func TestUpdateProcessorWrapsBackendError(t *testing.T) {
	pub := &memPublisher{err: errors.New("leader not available")}
	p, err := NewUpdateProcessor(pub, nil, nil, 0, newTestMetrics(), BackendKafka)
	require.NoError(t, err)
	err = p.Process(context.Background(), sampleUpdate("AAPL"))
	assert.ErrorContains(t, err, "leader not available")
}

func TestKafkaBarsHandlerArchives(t *testing.T) {
	store := &memStorage{}
	h := NewKafkaBarsHandler("finpulse.quotes", store, newTestMetrics())
	assert.Equal(t, "finpulse.quotes", h.Topic())

	b, err := json.Marshal(models.NewQuoteEvent(sampleUpdate("AAPL")))
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), b))
	require.Len(t, store.bars, 1)
	assert.Equal(t, 12.5, store.bars[0].Price)
	assert.Equal(t, int64(1_741_100_400_000), store.bars[0].Timestamp.UnixMilli())

	err = h.Handle(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, pkgkafka.ErrNonRetryable)

	err = h.Handle(context.Background(), []byte(`{"symbol":"AAPL","price":0,"ts":1}`))
	assert.ErrorIs(t, err, pkgkafka.ErrNonRetryable)
}
