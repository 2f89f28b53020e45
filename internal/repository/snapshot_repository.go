package repository

import (
	"context"
	"fmt"
	"time"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/domain/repository"
	"FinPulse/pkg/cache"
)

// RedisSnapshotMirror writes the latest payload per symbol to Redis and
// announces it on a channel, so other processes can read quotes without
// calling the upstreams.
type RedisSnapshotMirror struct {
	redis   *cache.RedisCache
	channel string
}

func NewRedisSnapshotMirror(redis *cache.RedisCache, channel string) *RedisSnapshotMirror {
	return &RedisSnapshotMirror{redis: redis, channel: channel}
}

var _ repository.SnapshotMirror = (*RedisSnapshotMirror)(nil)

// SnapshotKey is the Redis key, before prefixing, for symbol's snapshot.
func SnapshotKey(symbol string) string {
	return "quote:" + symbol
}

func (m *RedisSnapshotMirror) Mirror(ctx context.Context, a *models.AssetData, ttl time.Duration) error {
	if err := m.redis.SetAndPublish(ctx, SnapshotKey(a.Symbol), m.channel, models.NewQuoteEvent(a), ttl); err != nil {
		return fmt.Errorf("mirror %s: %w", a.Symbol, err)
	}
	return nil
}

// Close is a no-op; the Redis client is shared.
func (m *RedisSnapshotMirror) Close() error {
	return nil
}
