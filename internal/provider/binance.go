package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yourorg/live-signals/internal/model"

	"go.uber.org/zap"
)

// Binance REST endpoint and the largest klines page it serves
const (
	BinanceAPIBaseURL = "https://api.binance.com/api/v3"
	MaxKlinesLimit    = 1000
)

// BinanceSymbol converts "BTC/USD", "BTC-USD" or "BINANCE:BTCUSDT" to "BTCUSDT"
func BinanceSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "BINANCE:")
	s = strings.NewReplacer("/", "", "-", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

// Binance serves crypto quotes from the public 24h ticker endpoint
type Binance struct {
	http   *jsonClient
	logger *zap.Logger
}

// NewBinance creates a Binance adapter
func NewBinance(opts Options, logger *zap.Logger) *Binance {
	opts = opts.withDefaults(BinanceAPIBaseURL)
	return &Binance{
		http:   newJSONClient("binance", opts, logger),
		logger: logger,
	}
}

func (b *Binance) Name() string { return "binance" }

// FetchTick retrieves the 24h rolling ticker for spec
func (b *Binance) FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error) {
	symbol := BinanceSymbol(spec.Symbol)
	p, err := b.http.get(ctx, spec.Symbol, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("symbol", symbol)
		return http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/ticker/24hr?%s", b.http.opts.BaseURL, params.Encode()), nil)
	})
	if err != nil {
		return model.Tick{}, err
	}

	price, _ := p.number("lastPrice", "price", "c")
	closeTime, _ := p.number("closeTime")
	tick := model.Tick{
		Symbol:        spec.Symbol,
		Price:         price,
		Open:          p.optional("openPrice", "o"),
		High:          p.optional("highPrice", "h"),
		Low:           p.optional("lowPrice", "l"),
		PreviousClose: p.optional("prevClosePrice", "pc"),
		Volume:        p.optional("volume", "v"),
		Timestamp:     epochMillis(closeTime),
	}
	return finishTick(tick, b.Name(), b.logger), nil
}

// Klines retrieves up to limit closed candles for symbol and interval, oldest
// first, as ticks stamped with the candle close time
func (b *Binance) Klines(ctx context.Context, spec model.SymbolSpec, interval string, limit int) ([]model.Tick, error) {
	if limit <= 0 || limit > MaxKlinesLimit {
		limit = MaxKlinesLimit
	}
	symbol := BinanceSymbol(spec.Symbol)

	p, err := b.http.get(ctx, spec.Symbol, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Add("symbol", symbol)
		params.Add("interval", interval)
		params.Add("limit", strconv.Itoa(limit))
		return http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/klines?%s", b.http.opts.BaseURL, params.Encode()), nil)
	})
	if err != nil {
		return nil, err
	}

	rows, _ := p["items"].([]any)
	if len(rows) == 0 {
		b.logger.Warn("Binance returned empty klines array",
			zap.String("symbol", symbol),
			zap.String("interval", interval))
		return nil, nil
	}

	ticks := make([]model.Tick, 0, len(rows))
	for i, row := range rows {
		raw, ok := row.([]any)
		if !ok || len(raw) < 7 {
			b.logger.Warn("Skipping malformed kline data",
				zap.Int("index", i),
				zap.Any("raw_data", row))
			continue
		}

		closeTime, ok := toFloat(raw[6])
		if !ok {
			b.logger.Warn("Invalid close time format",
				zap.Int("index", i),
				zap.Any("closeTime", raw[6]))
			continue
		}
		closePrice, _ := toFloat(raw[4])

		ticks = append(ticks, model.Tick{
			Symbol:    spec.Symbol,
			Price:     closePrice,
			Open:      optionalFloat(raw[1]),
			High:      optionalFloat(raw[2]),
			Low:       optionalFloat(raw[3]),
			Volume:    optionalFloat(raw[5]),
			Timestamp: int64(closeTime),
			Source:    b.Name(),
		})
	}
	return ticks, nil
}

func optionalFloat(v any) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}
