package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"FinPulse/internal/domain/models"
	"FinPulse/internal/domain/repository"
	pkgch "FinPulse/pkg/clickhouse"
	pkgkafka "FinPulse/pkg/kafka"
)

const barColumns = "symbol, instrument_type, source, price, open, high, low, close, volume, change_pct, ts"

// ClickHouseStorage archives bars into the quote_bars table.
type ClickHouseStorage struct {
	client *pkgch.Client
	db     *sql.DB
	table  string
}

// NewClickHouseStorage creates ClickHouse storage for database.table.
func NewClickHouseStorage(client *pkgch.Client, table string) *ClickHouseStorage {
	return &ClickHouseStorage{client: client, db: client.DB(), table: table}
}

var _ repository.Storage = (*ClickHouseStorage)(nil)

func (s *ClickHouseStorage) qualified() string {
	return s.client.Database() + "." + s.table
}

// Init creates the database and table when missing.
func (s *ClickHouseStorage) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, pkgch.QuoteBarsSchema(s.client.Database(), s.table))
}

func barArgs(b *models.Bar) []interface{} {
	var open, high, low, cl interface{}
	if b.OHLC != nil {
		open, high, low, cl = b.OHLC.Open, b.OHLC.High, b.OHLC.Low, b.OHLC.Close
	}
	var vol, chg interface{}
	if b.Volume != nil {
		vol = *b.Volume
	}
	if b.ChangePct != nil {
		chg = *b.ChangePct
	}
	return []interface{}{b.Symbol, string(b.Type), b.Source, b.Price, open, high, low, cl, vol, chg, b.Timestamp.UTC()}
}

func (s *ClickHouseStorage) Store(ctx context.Context, b *models.Bar) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.qualified(), barColumns)
	if _, err := s.db.ExecContext(ctx, q, barArgs(b)...); err != nil {
		return fmt.Errorf("insert bar %s: %w", b.Symbol, err)
	}
	return nil
}

// StoreBatch inserts bars with multi-row VALUES in chunks.
func (s *ClickHouseStorage) StoreBatch(ctx context.Context, bars []*models.Bar) error {
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*11)
		for _, b := range bars[start:end] {
			if b == nil || b.Symbol == "" || b.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, barArgs(b)...)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.qualified(), barColumns, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %d bars: %w", len(values), err)
		}
	}
	return nil
}

// Query reads archived bars newest first.
func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Bar, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", barColumns, s.qualified())
	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []*models.Bar
	for rows.Next() {
		var (
			b                   models.Bar
			typ                 string
			open, high, low, cl sql.NullFloat64
			vol, chg            sql.NullFloat64
		)
		if err := rows.Scan(&b.Symbol, &typ, &b.Source, &b.Price, &open, &high, &low, &cl, &vol, &chg, &b.Timestamp); err != nil {
			return nil, err
		}
		b.Type = models.InstrumentType(typ)
		if open.Valid && high.Valid && low.Valid && cl.Valid {
			b.OHLC = &models.OHLC{Open: open.Float64, High: high.Float64, Low: low.Float64, Close: cl.Float64}
		}
		if vol.Valid {
			b.Volume = models.Float(vol.Float64)
		}
		if chg.Valid {
			b.ChangePct = models.Float(chg.Float64)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close is a no-op; the client is closed by its owner.
func (s *ClickHouseStorage) Close() error {
	return nil
}

// KafkaPublisher implements Publisher for Kafka, keyed by symbol so one
// symbol's updates stay ordered within a partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) Publish(ctx context.Context, a *models.AssetData) error {
	return p.producer.Publish(ctx, p.topic, []byte(a.Symbol), models.NewQuoteEvent(a))
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, items []*models.AssetData) error {
	if len(items) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(items))
	for i, a := range items {
		msgs[i] = pkgkafka.Message{Key: []byte(a.Symbol), Value: models.NewQuoteEvent(a)}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// Close is a no-op; the producer is shared and closed by its owner.
func (p *KafkaPublisher) Close() error {
	return nil
}
