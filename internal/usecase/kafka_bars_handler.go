package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FinPulse/internal/domain/models"
	drepo "FinPulse/internal/domain/repository"
	pkgkafka "FinPulse/pkg/kafka"
)

// KafkaBarsHandler consumes quote events and archives their bars.
type KafkaBarsHandler struct {
	topic   string
	storage drepo.Storage
	metrics drepo.Metrics
}

func NewKafkaBarsHandler(topic string, storage drepo.Storage, metrics drepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, storage: storage, metrics: metrics}
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// Handle decodes one models.QuoteEvent. Malformed events are not retried.
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.QuoteEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: decode quote event: %v", pkgkafka.ErrNonRetryable, err)
	}
	if err := ev.Validate(); err != nil {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("%w: %s: %v", pkgkafka.ErrNonRetryable, ev.Symbol, err)
	}

	bar := ev.Bar()
	// event time to archive, approximate
	h.metrics.RecordLatency("ingest_e2e", time.Since(bar.Timestamp).Seconds())

	start := time.Now()
	err := h.storage.Store(ctx, &bar)
	h.metrics.RecordLatency("ch_insert", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	h.metrics.RecordMessageSent(BackendClickHouse, bar.Symbol)
	return nil
}
