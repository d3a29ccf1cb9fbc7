package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a symbol has no stored row
var ErrNotFound = errors.New("not found")

// LivePrice is one persisted signal snapshot
type LivePrice struct {
	Symbol     string          `db:"symbol" json:"symbol"`
	Price      float64         `db:"price" json:"price"`
	Timestamp  int64           `db:"ts" json:"timestamp"`
	Exchange   string          `db:"exchange" json:"exchange"`
	Signal     string          `db:"signal" json:"signal"`
	Indicators []byte          `db:"indicators" json:"-"`
	Reasons    pq.StringArray  `db:"reasons" json:"reasons"`
	StopLoss   float64         `db:"stoploss" json:"stoploss"`
	Targets    pq.Float64Array `db:"targets" json:"targets"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

const schema = `
CREATE TABLE IF NOT EXISTS live_prices (
	symbol      TEXT PRIMARY KEY,
	price       DOUBLE PRECISION NOT NULL,
	ts          BIGINT NOT NULL,
	exchange    TEXT NOT NULL DEFAULT 'unknown',
	signal      TEXT NOT NULL DEFAULT 'HOLD',
	indicators  JSONB NOT NULL DEFAULT '{}',
	reasons     TEXT[] NOT NULL DEFAULT '{}',
	stoploss    DOUBLE PRECISION NOT NULL DEFAULT 0,
	targets     DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS live_price_ticks (
	symbol      TEXT NOT NULL REFERENCES live_prices(symbol) ON DELETE CASCADE,
	ts          BIGINT NOT NULL,
	price       DOUBLE PRECISION NOT NULL,
	signal      TEXT NOT NULL,
	indicators  JSONB NOT NULL DEFAULT '{}',
	reasons     TEXT[] NOT NULL DEFAULT '{}',
	stoploss    DOUBLE PRECISION NOT NULL DEFAULT 0,
	targets     DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (symbol, ts)
);`

// SignalRepository stores the latest signal per symbol plus a tick history
type SignalRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSignalRepository creates a new signal repository
func NewSignalRepository(db *sqlx.DB, logger *zap.Logger) *SignalRepository {
	return &SignalRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the tables when they are missing
func (r *SignalRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		r.logger.Error("Failed to create schema", zap.Error(err))
		return err
	}
	return nil
}

// SaveLivePrice merges lp into live_prices and records it under
// live_price_ticks in one transaction
func (r *SignalRepository) SaveLivePrice(ctx context.Context, lp LivePrice) error {
	if len(lp.Indicators) == 0 {
		lp.Indicators = []byte("{}")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", zap.Error(err))
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO live_prices (symbol, price, ts, exchange, signal, indicators, reasons, stoploss, targets, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP)
		ON CONFLICT (symbol)
		DO UPDATE SET
			price = EXCLUDED.price,
			ts = EXCLUDED.ts,
			exchange = EXCLUDED.exchange,
			signal = EXCLUDED.signal,
			indicators = EXCLUDED.indicators,
			reasons = EXCLUDED.reasons,
			stoploss = EXCLUDED.stoploss,
			targets = EXCLUDED.targets,
			updated_at = CURRENT_TIMESTAMP
	`, lp.Symbol, lp.Price, lp.Timestamp, lp.Exchange, lp.Signal, string(lp.Indicators),
		pq.Array([]string(lp.Reasons)), lp.StopLoss, pq.Array([]float64(lp.Targets)))
	if err != nil {
		r.logger.Error("Failed to upsert live price",
			zap.Error(err),
			zap.String("symbol", lp.Symbol))
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO live_price_ticks (symbol, ts, price, signal, indicators, reasons, stoploss, targets)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, ts)
		DO UPDATE SET
			price = EXCLUDED.price,
			signal = EXCLUDED.signal,
			indicators = EXCLUDED.indicators,
			reasons = EXCLUDED.reasons,
			stoploss = EXCLUDED.stoploss,
			targets = EXCLUDED.targets
	`, lp.Symbol, lp.Timestamp, lp.Price, lp.Signal, string(lp.Indicators),
		pq.Array([]string(lp.Reasons)), lp.StopLoss, pq.Array([]float64(lp.Targets)))
	if err != nil {
		r.logger.Error("Failed to append live price tick",
			zap.Error(err),
			zap.String("symbol", lp.Symbol),
			zap.Int64("ts", lp.Timestamp))
		return err
	}

	return tx.Commit()
}

// GetLivePrice returns the merged row for symbol
func (r *SignalRepository) GetLivePrice(ctx context.Context, symbol string) (*LivePrice, error) {
	var lp LivePrice
	err := r.db.GetContext(ctx, &lp, `
		SELECT symbol, price, ts, exchange, signal, indicators, reasons, stoploss, targets, updated_at
		FROM live_prices
		WHERE symbol = $1
	`, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get live price", zap.Error(err), zap.String("symbol", symbol))
		return nil, err
	}
	return &lp, nil
}

// ListTicks returns the newest limit ticks for symbol, newest first
func (r *SignalRepository) ListTicks(ctx context.Context, symbol string, limit int) ([]LivePrice, error) {
	if limit <= 0 {
		limit = 100
	}
	var ticks []LivePrice
	err := r.db.SelectContext(ctx, &ticks, `
		SELECT t.symbol, t.price, t.ts, p.exchange, t.signal, t.indicators, t.reasons, t.stoploss, t.targets, p.updated_at
		FROM live_price_ticks t
		JOIN live_prices p ON p.symbol = t.symbol
		WHERE t.symbol = $1
		ORDER BY t.ts DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		r.logger.Error("Failed to list ticks",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.Int("limit", limit))
		return nil, err
	}
	return ticks, nil
}
