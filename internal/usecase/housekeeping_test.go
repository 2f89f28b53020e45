package usecase

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinPulse/pkg/cache"
	"FinPulse/pkg/logger"
)

type countingKeeper struct {
	sweeps atomic.Int32
	stats  atomic.Int32
}

func (k *countingKeeper) SweepCache() int {
	k.sweeps.Add(1)
	return 1
}

func (k *countingKeeper) CacheStats() cache.Stats {
	k.stats.Add(1)
	return cache.Stats{Size: 3, Evictions: 1}
}

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

func TestHousekeepingRunsJobs(t *testing.T) {
	k := &countingKeeper{}
	h := NewHousekeeping(HousekeepingConfig{
		SweepInterval: 100 * time.Millisecond,
		GaugeInterval: 100 * time.Millisecond,
	}, k, fixedCount(2), newTestMetrics(), logger.Nop())

	require.NoError(t, h.Start())
	defer h.Stop()

	assert.Eventually(t, func() bool {
		return k.sweeps.Load() >= 2 && k.stats.Load() >= 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHousekeepingStopHaltsJobs(t *testing.T) {
	k := &countingKeeper{}
	h := NewHousekeeping(HousekeepingConfig{
		SweepInterval: 50 * time.Millisecond,
		GaugeInterval: time.Hour,
	}, k, fixedCount(0), newTestMetrics(), logger.Nop())

	require.NoError(t, h.Start())
	require.Eventually(t, func() bool { return k.sweeps.Load() >= 1 }, time.Second, 10*time.Millisecond)
	h.Stop()

	n := k.sweeps.Load()
	time.Sleep(200 * time.Millisecond)
	assert.LessOrEqual(t, k.sweeps.Load(), n+1)
}
