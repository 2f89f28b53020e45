package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"
)

// Publisher ships aggregated log batches. The Kafka producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush interval
	CountThreshold int           // unique entries before an early flush
	Topic          string
	Publisher      Publisher
	IncludeWarn    bool
}

type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector deduplicates repeated log lines and flushes them as one
// batch per interval, or sooner once CountThreshold distinct lines pile up.
type LogCollector struct {
	config *CollectionConfig
	mu     sync.Mutex
	logMap map[uint64]*AggregatedLogEntry
	flushC chan []AggregatedLogEntry
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewLogCollector(config *CollectionConfig) *LogCollector {
	if config.TimeInterval <= 0 {
		config.TimeInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &LogCollector{
		config: config,
		logMap: make(map[uint64]*AggregatedLogEntry),
		flushC: make(chan []AggregatedLogEntry, 4),
		ctx:    ctx,
		cancel: cancel,
	}

	c.wg.Add(2)
	go c.periodicFlush()
	go c.sender()
	return c
}

func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.logMap[key]; ok {
		entry.Count++
		entry.LastSeen = now
	} else {
		c.logMap[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(c.logMap) >= c.config.CountThreshold {
		c.drainLocked()
	}
}

// Pending reports the number of distinct entries waiting to be flushed.
func (c *LogCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logMap)
}

func entryKey(level, message string, fields map[string]interface{}, caller string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(level))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(message))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(caller))
	// json.Marshal sorts map keys, so equal field sets hash equally.
	if b, err := json.Marshal(fields); err == nil {
		_, _ = h.Write(b)
	}
	return h.Sum64()
}

func (c *LogCollector) periodicFlush() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.TimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.drainLocked()
			c.mu.Unlock()
		case <-c.ctx.Done():
			c.mu.Lock()
			c.drainLocked()
			c.mu.Unlock()
			close(c.flushC)
			return
		}
	}
}

// drainLocked hands the current batch to the sender. If the sender is
// backed up the batch is dropped rather than blocking the logging caller.
func (c *LogCollector) drainLocked() {
	if len(c.logMap) == 0 {
		return
	}
	logs := make([]AggregatedLogEntry, 0, len(c.logMap))
	for _, entry := range c.logMap {
		logs = append(logs, *entry)
	}
	c.logMap = make(map[uint64]*AggregatedLogEntry)

	select {
	case c.flushC <- logs:
	default:
		fmt.Fprintf(os.Stderr, "log collector: dropped batch of %d entries\n", len(logs))
	}
}

func (c *LogCollector) sender() {
	defer c.wg.Done()
	for logs := range c.flushC {
		if c.config.Publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, logs); err != nil {
			fmt.Fprintf(os.Stderr, "log collector: publish failed: %v\n", err)
		}
		cancel()
	}
}

// Close flushes what is pending and waits for the sender to finish.
func (c *LogCollector) Close() {
	c.cancel()
	c.wg.Wait()
}
