package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSpacesCalls(t *testing.T) {
	g := NewGate(50*time.Millisecond, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestGateWaitHonoursContext(t *testing.T) {
	g := NewGate(time.Hour, 1)
	require.True(t, g.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.Wait(ctx))
}

func TestZeroIntervalIsUnlimited(t *testing.T) {
	g := NewGate(0, 1)
	for i := 0; i < 100; i++ {
		assert.True(t, g.Allow())
	}
}

func TestLimiterSharesGatePerKey(t *testing.T) {
	l := New()
	a := l.Gate("yahoo", time.Hour, 1)
	b := l.Gate("yahoo", time.Millisecond, 5)
	c := l.Gate("coingecko", time.Hour, 1)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	assert.True(t, l.Allow("yahoo"))
	assert.False(t, l.Allow("yahoo"), "second call within the interval is refused")
	assert.True(t, l.Allow("coingecko"), "keys are independent")
	assert.True(t, l.Allow("unknown"))
}
