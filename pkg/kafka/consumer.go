package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"FinPulse/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Logger      *logger.Logger
	Hook        ConsumerHook
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) { c.Brokers = brokers }
}

func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		if groupID != "" {
			c.GroupID = groupID
		}
	}
}

// WithConsumerWorkers sets worker count and the queue between readers and workers.
func WithConsumerWorkers(workers, buffer int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if workers > 0 {
			c.WorkerCount = workers
		}
		if buffer > 0 {
			c.BufferSize = buffer
		}
	}
}

// WithConsumerRetry configures retry attempts and the backoff range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ routes messages that exhaust retries to topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) { c.DLQTopic = topic }
}

func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if minBytes > 0 {
			c.MinBytes = minBytes
		}
		if maxBytes > 0 {
			c.MaxBytes = maxBytes
		}
	}
}

func WithConsumerLogger(l *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) { c.Logger = l }
}

func WithConsumerHook(h ConsumerHook) ConsumerOption {
	return func(c *ConsumerConfig) {
		if h != nil {
			c.Hook = h
		}
	}
}

// Consumer fans messages from one reader per registered topic into a
// worker pool. Messages of one partition are handled one at a time, and
// offsets are committed after success or after the DLQ write.
type Consumer struct {
	cfg      *ConsumerConfig
	log      *logger.Logger
	readers  map[string]*kafka.Reader
	handlers map[string]MessageHandler
	msgs     chan kafka.Message
	dlq      *kafka.Writer

	partLocks sync.Map // "topic/partition" -> *sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	readWG   sync.WaitGroup
	workWG   sync.WaitGroup
	stopOnce sync.Once
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "finpulse",
		WorkerCount: 1,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  100 * time.Millisecond,
		BackoffMax:  5 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
		Hook:        NoopHook{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		log:      cfg.Logger.With(logger.String("component", "kafka_consumer")),
		readers:  make(map[string]*kafka.Reader),
		handlers: make(map[string]MessageHandler),
		msgs:     make(chan kafka.Message, cfg.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.LeastBytes{}}
	}

	consumerMetricsOnce.Do(initConsumerMetrics)
	return c, nil
}

// RegisterHandler must be called before Start. A second handler for the
// same topic is rejected.
func (c *Consumer) RegisterHandler(h MessageHandler) error {
	if _, ok := c.handlers[h.Topic()]; ok {
		return fmt.Errorf("kafka consumer: handler already registered for topic %s", h.Topic())
	}
	c.handlers[h.Topic()] = h
	return nil
}

func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workWG.Add(1)
		go c.worker()
	}
	for topic, r := range c.readers {
		c.readWG.Add(1)
		go c.read(topic, r)
	}

	c.log.Info("kafka consumer started",
		logger.Int("workers", c.cfg.WorkerCount),
		logger.Int("topics", len(c.readers)),
		logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop halts the readers, lets workers drain the queue, then closes the
// readers. It returns ctx.Err() if draining outlives ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.readWG.Wait()
		close(c.msgs)

		done := make(chan struct{})
		go func() {
			c.workWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer: stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
		c.log.Info("kafka consumer stopped")
	})
	return err
}

func (c *Consumer) read(topic string, r *kafka.Reader) {
	defer c.readWG.Done()
	for {
		msg, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch message", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(c.ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}
		select {
		case c.msgs <- msg:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgs)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker() {
	defer c.workWG.Done()
	for msg := range c.msgs {
		c.process(msg)
	}
}

func (c *Consumer) process(msg kafka.Message) {
	h := c.handlers[msg.Topic]
	if h == nil {
		return
	}
	start := time.Now()

	lock := c.partitionLock(msg.Topic, msg.Partition)
	lock.Lock()
	defer lock.Unlock()

	err := c.handleWithRetry(h, msg)
	result := "ok"
	if err != nil {
		result = "error"
		c.cfg.Hook.OnError(context.Background(), msg.Topic, msg, msg.Value, err)
		c.log.Error("handle message failed",
			logger.String("topic", msg.Topic),
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Error(err))
		if c.dlq != nil {
			if derr := c.writeDLQ(msg, err); derr != nil {
				c.log.Error("dlq write failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(derr))
			} else {
				result = "dlq"
			}
		}
	}

	// Commit on success or after the DLQ took the message; otherwise the
	// message is redelivered after a rebalance.
	if err == nil || result == "dlq" {
		if r := c.readers[msg.Topic]; r != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if cerr := r.CommitMessages(ctx, msg); cerr != nil {
				c.log.Warn("commit offset", logger.String("topic", msg.Topic), logger.Error(cerr))
			}
			cancel()
		}
	}

	consumerMessages.WithLabelValues(msg.Topic, result).Inc()
	consumerHandleLatency.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) handleWithRetry(h MessageHandler, msg kafka.Message) (err error) {
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(h, msg)
		if err == nil || attempt > c.cfg.RetryMax || errors.Is(err, ErrNonRetryable) {
			return err
		}
		if !sleepCtx(c.ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return err
		}
	}
}

func (c *Consumer) handleOnce(h MessageHandler, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrNonRetryable, r)
		}
	}()
	ctx, data, err := c.cfg.Hook.BeforeHandle(context.Background(), msg.Topic, msg, msg.Value)
	if err != nil {
		return err
	}
	err = h.Handle(ctx, data)
	c.cfg.Hook.AfterHandle(ctx, msg.Topic, msg, data, err)
	return err
}

func (c *Consumer) writeDLQ(msg kafka.Message, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(msg.Topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	key := fmt.Sprintf("%s/%d", topic, partition)
	l, _ := c.partLocks.LoadOrStore(key, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var (
	consumerMetricsOnce   sync.Once
	consumerQueueDepth    *prometheus.GaugeVec
	consumerMessages      *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
)

func initConsumerMetrics() {
	consumerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "finpulse_kafka_consumer_queue_depth",
		Help: "Messages waiting for a worker",
	}, []string{"topic"})
	consumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finpulse_kafka_consumer_messages_total",
		Help: "Consumed messages by result",
	}, []string{"topic", "result"})
	consumerHandleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finpulse_kafka_consumer_handle_seconds",
		Help:    "Handling time per message including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
}
