package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.RecordCacheLookup("fresh")
	r.RecordCacheLookup("fresh")
	r.RecordCacheLookup("miss")
	r.RecordUpstreamCall("yahoo", "ok")
	r.RecordBroadcast("AAPL", 3, 1)
	r.RecordBroadcast("AAPL", 0, 0)
	r.SetConnections(4)
	r.SetCacheStats(12, 7)
	r.RecordLastPrice("AAPL", 190.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("fresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.upstreamCalls.WithLabelValues("yahoo", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.broadcasts.WithLabelValues("AAPL", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.broadcasts.WithLabelValues("AAPL", "dropped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.connections))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.cacheSize))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.cacheEvicts))
	assert.Equal(t, 190.25, testutil.ToFloat64(r.lastPrice.WithLabelValues("AAPL")))
}

func TestNewWithRegistryIsolated(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegistry(prometheus.NewRegistry())
		NewWithRegistry(prometheus.NewRegistry())
	})
}
