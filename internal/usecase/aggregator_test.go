package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/services/indicators"
	"FinPulse/pkg/cache"
)

// Tuesday 15:00 UTC, inside US regular hours.
var marketOpen = time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

func TestAggregatorColdCacheSingleFetch(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &fakeSource{clock: clock, gate: make(chan struct{})}
	agg := newTestAggregator(src, clock, AggregatorConfig{})

	const n = 50
	var wg sync.WaitGroup
	results := make([]*models.AssetData, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = agg.GetAssetData(context.Background(), "aapl")
		}(i)
	}

	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 101.0, results[i].Bar.Price)
		assert.Equal(t, "AAPL", results[i].Symbol)
	}
}

func TestAggregatorTTLContract(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &fakeSource{clock: clock}
	agg := newTestAggregator(src, clock, AggregatorConfig{TTL: 30 * time.Second})
	ctx := context.Background()

	first, err := agg.GetAssetData(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	clock.Advance(10 * time.Second)
	again, err := agg.GetAssetData(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "fresh hit at t=10")
	assert.Same(t, first, again)

	clock.Advance(21 * time.Second)
	later, err := agg.GetAssetData(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load(), "refetch at t=31")
	assert.True(t, later.ComputedAt.After(first.ComputedAt))
	assert.False(t, later.Stale)
}

func TestAggregatorStaleFallback(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &fakeSource{clock: clock}
	agg := newTestAggregator(src, clock, AggregatorConfig{})
	ctx := context.Background()

	fresh, err := agg.GetAssetData(ctx, "TSLA")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	src.setErr(models.Unavailable("fake", "TSLA", errors.New("503")))

	got, err := agg.GetAssetData(ctx, "TSLA")
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.Equal(t, fresh.Bar.Price, got.Bar.Price)
	assert.False(t, fresh.Stale, "cached value is not mutated")
	assert.Equal(t, uint64(1), agg.Stats().StaleServed)

	// past the grace period nothing is left to fall back on
	clock.Advance(6 * time.Minute)
	_, err = agg.GetAssetData(ctx, "TSLA")
	assert.True(t, models.IsUnavailable(err))
}

func TestAggregatorUnavailableWithoutCache(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &fakeSource{clock: clock}
	src.setErr(errors.New("connection reset"))
	agg := newTestAggregator(src, clock, AggregatorConfig{})

	_, err := agg.GetAssetData(context.Background(), "NFLX")
	require.Error(t, err)
	assert.True(t, models.IsUnavailable(err), "unclassified errors become Unavailable")
}

func TestAggregatorNotFoundIsNeverCached(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &fakeSource{clock: clock}
	src.setErr(models.NotFound("fake", "ZZZZ", nil))
	agg := newTestAggregator(src, clock, AggregatorConfig{})
	ctx := context.Background()

	_, err := agg.GetAssetData(ctx, "ZZZZ")
	assert.True(t, models.IsNotFound(err))
	_, err = agg.GetAssetData(ctx, "ZZZZ")
	assert.True(t, models.IsNotFound(err))

	assert.Equal(t, int32(2), src.calls.Load())
	_, state := agg.Peek("ZZZZ")
	assert.Equal(t, cache.Miss, state)
	assert.Equal(t, uint64(2), agg.Stats().NotFound)
}

func TestAggregatorCallerCancelDoesNotAbortFetch(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &fakeSource{clock: clock, gate: make(chan struct{})}
	agg := newTestAggregator(src, clock, AggregatorConfig{FetchTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := agg.GetAssetData(ctx, "GOOGL")
		done <- err
	}()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.True(t, models.IsUnavailable(<-done))

	close(src.gate)
	require.Eventually(t, func() bool {
		_, state := agg.Peek("GOOGL")
		return state == cache.Fresh
	}, time.Second, time.Millisecond)
}

func TestAggregatorAliasesShareEntry(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &fakeSource{clock: clock}
	agg := newTestAggregator(src, clock, AggregatorConfig{})

	a, err := agg.GetAssetData(context.Background(), "BTC")
	require.NoError(t, err)
	b, err := agg.GetAssetData(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, models.Crypto, a.Type)
}

func TestAggregatorWarmupSeedsIndicators(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &backfillSource{fakeSource: &fakeSource{clock: clock}, bars: 40}
	agg := newTestAggregator(src, clock, AggregatorConfig{Warmup: true, HistoryCapacity: 200})

	data, err := agg.GetAssetData(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 41, data.History)
	_, ok := data.Indicators.Value(indicators.RSI14)
	assert.True(t, ok)
	_, ok = data.Indicators.Value(indicators.MACDSignal)
	assert.True(t, ok)

	bars, ok := agg.History("AAPL", time.Time{}, 10)
	require.True(t, ok)
	require.Len(t, bars, 10)
	assert.Equal(t, data.Bar.Price, bars[9].Price)
}

func TestAggregatorWarmupFromQuoteResponse(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &historySource{backfillSource: &backfillSource{fakeSource: &fakeSource{clock: clock}, bars: 40}}
	agg := newTestAggregator(src, clock, AggregatorConfig{Warmup: true, HistoryCapacity: 200})

	data, err := agg.GetAssetData(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 41, data.History)
	assert.Equal(t, int32(1), src.calls.Load(), "one upstream call for a cold symbol")
	assert.Equal(t, int32(1), src.withHistory.Load())
	assert.Zero(t, src.backfills.Load())

	clock.Advance(time.Minute)
	_, err = agg.GetAssetData(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.withHistory.Load(), "warm symbols use plain Fetch")
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestAggregatorNeverRegressesToOlderBar(t *testing.T) {
	clock := newFakeClock(marketOpen)
	stamps := map[int32]time.Time{
		1: marketOpen.Add(time.Minute),
		2: marketOpen.Add(10 * time.Second),
	}
	src := &fakeSource{clock: clock, at: func(n int32) time.Time { return stamps[n] }}
	agg := newTestAggregator(src, clock, AggregatorConfig{TTL: 30 * time.Second})
	ctx := context.Background()

	first, err := agg.GetAssetData(ctx, "AAPL")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	second, err := agg.GetAssetData(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Equal(t, first.Bar.Timestamp, second.Bar.Timestamp)
	assert.Equal(t, first.Bar.Price, second.Bar.Price)

	bars, ok := agg.History("AAPL", time.Time{}, 0)
	require.True(t, ok)
	require.Len(t, bars, 1)
	assert.Equal(t, marketOpen.Add(time.Minute), bars[0].Timestamp)

	// the entry was refreshed, so the next read is a cache hit
	_, err = agg.GetAssetData(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestAggregatorWithoutWarmupReportsInsufficientData(t *testing.T) {
	clock := newFakeClock(marketOpen)
	src := &backfillSource{fakeSource: &fakeSource{clock: clock}, bars: 40}
	agg := newTestAggregator(src, clock, AggregatorConfig{Warmup: false})

	data, err := agg.GetAssetData(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1, data.History)
	v, present := data.Indicators.Values[indicators.RSI14]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestAggregatorClosedMarketTTL(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC)
	clock := newFakeClock(saturday)
	src := &fakeSource{clock: clock}
	agg := newTestAggregator(src, clock, AggregatorConfig{TTL: 30 * time.Second, ClosedMarketTTL: 10 * time.Minute})
	ctx := context.Background()

	_, err := agg.GetAssetData(ctx, "AAPL")
	require.NoError(t, err)
	_, err = agg.GetAssetData(ctx, "SOL")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = agg.GetAssetData(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load(), "equity held for the closed-market TTL")

	_, err = agg.GetAssetData(ctx, "SOL")
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load(), "crypto trades around the clock")
}

func TestAggregatorHistoryUnknownSymbol(t *testing.T) {
	clock := newFakeClock(marketOpen)
	agg := newTestAggregator(&fakeSource{clock: clock}, clock, AggregatorConfig{})
	_, ok := agg.History("AAPL", time.Time{}, 10)
	assert.False(t, ok)
}
