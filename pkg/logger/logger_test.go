package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).With(String("component", "aggregator"))

	l.Info("quote refreshed", String("symbol", "AAPL"), Float64("price", 189.5), Duration("took", 1500*time.Millisecond))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "quote refreshed", line["message"])
	assert.Equal(t, "aggregator", line["component"])
	assert.Equal(t, "AAPL", line["symbol"])
	assert.Equal(t, 189.5, line["price"])
	assert.Equal(t, float64(1500), line["took"])
}

func TestCollectorDeduplicatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("upstream failed", String("source", "yahoo"), Error(errors.New("timeout")))
	}
	l.Error("upstream failed", String("source", "coingecko"))
	assert.Equal(t, 2, l.collector.Pending())

	l.RemoveCollector()

	got := pub.entries()
	require.Len(t, got, 2)
	counts := map[interface{}]int{}
	for _, e := range got {
		counts[e.Fields["source"]] = e.Count
	}
	assert.Equal(t, 3, counts["yahoo"])
	assert.Equal(t, 1, counts["coingecko"])
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "x.go:1")
	c.AddLog("error", "b", nil, "x.go:2")

	assert.Eventually(t, func() bool { return len(pub.entries()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestWarnCollectedOnlyWhenEnabled(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})
	l.Warn("slow")
	assert.Equal(t, 0, l.collector.Pending())
	l.RemoveCollector()

	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub, IncludeWarn: true})
	l.Warn("slow")
	assert.Equal(t, 1, l.collector.Pending())
	l.RemoveCollector()
}
