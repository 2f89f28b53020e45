package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics on Prometheus.
type Recorder struct {
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	upstreamCalls *prometheus.CounterVec
	broadcasts    *prometheus.CounterVec
	connections   prometheus.Gauge
	cacheSize     prometheus.Gauge
	cacheEvicts   prometheus.Gauge
}

// New registers the collectors on the default registry. Call it once per
// process; tests should use NewWithRegistry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finpulse_messages_sent_total",
			Help: "Updates delivered to a backend sink",
		}, []string{"backend", "symbol"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finpulse_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "finpulse_last_price",
			Help: "Last price seen per symbol",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finpulse_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finpulse_cache_lookups_total",
			Help: "Cache lookups by resulting state (fresh, stale, miss)",
		}, []string{"state"}),
		upstreamCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finpulse_upstream_calls_total",
			Help: "Upstream adapter calls by source and result",
		}, []string{"source", "result"}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "finpulse_broadcast_sends_total",
			Help: "Per-subscriber sends by outcome",
		}, []string{"symbol", "outcome"}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "finpulse_ws_connections",
			Help: "Live websocket subscribers",
		}),
		cacheSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "finpulse_cache_entries",
			Help: "Entries held by the quote cache",
		}),
		cacheEvicts: f.NewGauge(prometheus.GaugeOpts{
			Name: "finpulse_cache_evictions",
			Help: "Entries evicted from the quote cache since start",
		}),
	}
}

func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordCacheLookup(state string) {
	r.cacheLookups.WithLabelValues(state).Inc()
}

func (r *Recorder) RecordUpstreamCall(source, result string) {
	r.upstreamCalls.WithLabelValues(source, result).Inc()
}

func (r *Recorder) RecordBroadcast(symbol string, delivered, dropped int) {
	if delivered > 0 {
		r.broadcasts.WithLabelValues(symbol, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		r.broadcasts.WithLabelValues(symbol, "dropped").Add(float64(dropped))
	}
}

func (r *Recorder) SetConnections(n int) {
	r.connections.Set(float64(n))
}

// SetCacheStats mirrors cache.Stats into gauges. Evictions is a running
// total owned by the cache, so it is exported as a gauge.
func (r *Recorder) SetCacheStats(size int, evictions uint64) {
	r.cacheSize.Set(float64(size))
	r.cacheEvicts.Set(float64(evictions))
}
