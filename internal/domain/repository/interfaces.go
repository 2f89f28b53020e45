package repository

import (
	"context"
	"time"

	"FinPulse/internal/domain/models"
)

// SourceAdapter fetches the latest bar for an instrument from one upstream family.
// Errors are classified as models.ErrNotFound or models.ErrUnavailable.
type SourceAdapter interface {
	Name() string
	Fetch(ctx context.Context, in models.Instrument) (*models.Bar, error)
}

// Backfiller is implemented by adapters that can seed recent history.
type Backfiller interface {
	Backfill(ctx context.Context, in models.Instrument, limit int) ([]models.Bar, error)
}

// HistoryFetcher is implemented by adapters whose quote response already
// carries recent bars, so a cold symbol costs one upstream call.
type HistoryFetcher interface {
	FetchWithHistory(ctx context.Context, in models.Instrument, limit int) (*models.Bar, []models.Bar, error)
}

// Publisher ships updates to a message broker.
type Publisher interface {
	Publish(ctx context.Context, a *models.AssetData) error
	PublishBatch(ctx context.Context, items []*models.AssetData) error
	Close() error
}

// Storage archives bars for offline analytics. Never read back into history windows.
type Storage interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, b *models.Bar) error
	StoreBatch(ctx context.Context, bars []*models.Bar) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Bar, error)
	Health(ctx context.Context) error
	Close() error
}

// SnapshotMirror copies the latest payload per symbol to a shared store.
type SnapshotMirror interface {
	Mirror(ctx context.Context, a *models.AssetData, ttl time.Duration) error
	Close() error
}

type Metrics interface {
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordCacheLookup(state string)
	RecordUpstreamCall(source, result string)
	RecordBroadcast(symbol string, delivered, dropped int)
	SetConnections(n int)
	SetCacheStats(size int, evictions uint64)
}
