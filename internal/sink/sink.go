// Package sink forwards scored results to external persistence. Sinks are a
// side effect of scoring; their failures never block the pipeline.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourorg/live-signals/internal/kafka"
	"github.com/yourorg/live-signals/internal/model"
	"github.com/yourorg/live-signals/internal/provider"
	"github.com/yourorg/live-signals/internal/repository"
)

// Record is the write contract shared by every sink
type Record struct {
	Symbol     string           `json:"symbol"`
	Price      float64          `json:"price"`
	Timestamp  int64            `json:"timestamp"`
	Exchange   string           `json:"exchange"`
	Signal     model.Signal     `json:"signal"`
	Indicators model.Indicators `json:"indicators"`
	Reasons    []string         `json:"reasons"`
	StopLoss   float64          `json:"stoploss"`
	Targets    []float64        `json:"targets"`
}

// RecordSymbol is the storage key for spec: index symbols use their NSE
// display name and the "NSE:" prefix is dropped
func RecordSymbol(spec model.SymbolSpec) string {
	symbol := spec.Symbol
	if spec.Class == model.ClassIndex {
		symbol = provider.NSEIndexName(symbol)
	}
	return strings.Replace(symbol, "NSE:", "", 1)
}

// NewRecord builds the record for a scored result
func NewRecord(spec model.SymbolSpec, res model.ScoreResult, now time.Time) Record {
	price := res.EntryPrice
	if price == 0 && len(res.Targets) > 0 {
		price = res.Targets[0]
	}
	return Record{
		Symbol:     RecordSymbol(spec),
		Price:      price,
		Timestamp:  now.UnixMilli(),
		Exchange:   string(spec.Class),
		Signal:     res.Signal,
		Indicators: res.Indicators,
		Reasons:    append([]string(nil), res.Reasons...),
		StopLoss:   res.StopLoss,
		Targets:    append([]float64(nil), res.Targets...),
	}
}

// Sink accepts records
type Sink interface {
	Name() string
	Write(ctx context.Context, rec Record) error
}

// Multi writes to every sink and joins their errors
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Nop discards records
type Nop struct{}

func (Nop) Name() string { return "nop" }

func (Nop) Write(context.Context, Record) error { return nil }

// LivePriceStore is the persistence used by Postgres
type LivePriceStore interface {
	SaveLivePrice(ctx context.Context, lp repository.LivePrice) error
}

// Postgres merges the latest record per symbol and appends to its tick history
type Postgres struct {
	store LivePriceStore
}

// NewPostgres creates a sink upserting into store
func NewPostgres(store LivePriceStore) *Postgres {
	return &Postgres{store: store}
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Write(ctx context.Context, rec Record) error {
	indicators, err := json.Marshal(rec.Indicators)
	if err != nil {
		return fmt.Errorf("encode indicators: %w", err)
	}
	exchange := rec.Exchange
	if exchange == "" {
		exchange = "unknown"
	}
	return p.store.SaveLivePrice(ctx, repository.LivePrice{
		Symbol:     rec.Symbol,
		Price:      rec.Price,
		Timestamp:  rec.Timestamp,
		Exchange:   exchange,
		Signal:     string(rec.Signal),
		Indicators: indicators,
		Reasons:    rec.Reasons,
		StopLoss:   rec.StopLoss,
		Targets:    rec.Targets,
	})
}

// Publisher is the part of kafka.Producer used by Kafka
type Publisher interface {
	Publish(ctx context.Context, topic string, msg kafka.Message) error
}

// Kafka publishes each record as JSON keyed by symbol
type Kafka struct {
	producer Publisher
	topic    string
}

// NewKafka creates a sink publishing records to topic
func NewKafka(producer Publisher, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Write(ctx context.Context, rec Record) error {
	return k.producer.Publish(ctx, k.topic, kafka.Message{Key: rec.Symbol, Value: rec})
}
