package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls atomic.Int32
	fail  int32
	err   error
}

func (h *countingHandler) Topic() string { return "finpulse.quotes" }

func (h *countingHandler) Handle(context.Context, []byte) error {
	if h.calls.Add(1) <= h.fail {
		return h.err
	}
	return nil
}

func newTestConsumer(t *testing.T, opts ...ConsumerOption) *Consumer {
	t.Helper()
	opts = append([]ConsumerOption{WithConsumerBrokers([]string{"localhost:9092"})}, opts...)
	c, err := NewConsumer(opts...)
	require.NoError(t, err)
	return c
}

func TestHandleWithRetryRecovers(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetry(3, time.Millisecond, 2*time.Millisecond))
	h := &countingHandler{fail: 2, err: errors.New("clickhouse busy")}

	err := c.handleWithRetry(h, kafka.Message{Topic: h.Topic()})
	require.NoError(t, err)
	assert.Equal(t, int32(3), h.calls.Load())
}

func TestHandleWithRetryStopsOnNonRetryable(t *testing.T) {
	c := newTestConsumer(t, WithConsumerRetry(5, time.Millisecond, time.Millisecond))
	h := &countingHandler{fail: 10, err: errors.Join(ErrNonRetryable, errors.New("bad json"))}

	err := c.handleWithRetry(h, kafka.Message{Topic: h.Topic()})
	require.ErrorIs(t, err, ErrNonRetryable)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestHookCanRejectMessage(t *testing.T) {
	var after atomic.Int32
	hook := HookFuncs{
		Before: func(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
			if len(data) == 0 {
				return ctx, nil, ErrNonRetryable
			}
			return ctx, data, nil
		},
		After: func(context.Context, string, kafka.Message, []byte, error) { after.Add(1) },
	}
	c := newTestConsumer(t, WithConsumerHook(hook), WithConsumerRetry(0, time.Millisecond, time.Millisecond))
	h := &countingHandler{}

	require.ErrorIs(t, c.handleWithRetry(h, kafka.Message{Topic: h.Topic()}), ErrNonRetryable)
	assert.Zero(t, h.calls.Load())

	require.NoError(t, c.handleWithRetry(h, kafka.Message{Topic: h.Topic(), Value: []byte("{}")}))
	assert.Equal(t, int32(1), h.calls.Load())
	assert.Equal(t, int32(1), after.Load())
}

func TestRegisterHandlerRejectsDuplicate(t *testing.T) {
	c := newTestConsumer(t)
	require.NoError(t, c.RegisterHandler(&countingHandler{}))
	assert.Error(t, c.RegisterHandler(&countingHandler{}))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

func TestEncodeValue(t *testing.T) {
	b, err := encodeValue("raw")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), b)

	b, err = encodeValue(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))

	_, err = encodeValue(json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = encodeValue(func() {})
	assert.Error(t, err)
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}
