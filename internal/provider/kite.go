package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yourorg/live-signals/internal/model"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	"go.uber.org/zap"
)

// Kite serves NSE equity and index quotes through the Zerodha Kite Connect REST API
type Kite struct {
	client *kiteconnect.Client
	retry  RetryPolicy
	logger *zap.Logger
}

// NewKite creates a Kite adapter. Kite Connect calls take no context, so the
// attempt timeout is enforced by the HTTP client.
func NewKite(apiKey, accessToken string, opts Options, logger *zap.Logger) *Kite {
	opts = opts.withDefaults("")
	client := kiteconnect.New(apiKey)
	client.SetAccessToken(accessToken)
	client.SetHTTPClient(&http.Client{Timeout: opts.Timeout, Transport: opts.HTTPClient.Transport})
	if opts.BaseURL != "" {
		client.SetBaseURI(opts.BaseURL)
	}
	return &Kite{
		client: client,
		retry:  opts.Retry,
		logger: logger.With(zap.String("provider", "kite")),
	}
}

func (k *Kite) Name() string { return "kite" }

// KiteInstrument converts a symbol to Kite's "EXCHANGE:TRADINGSYMBOL" form
func KiteInstrument(spec model.SymbolSpec) string {
	if strings.Contains(spec.Symbol, ":") {
		return spec.Symbol
	}
	if spec.Class == model.ClassIndex {
		return "NSE:" + NSEIndexName(spec.Symbol)
	}
	return "NSE:" + NSESymbol(spec.Symbol)
}

// FetchTick retrieves the Kite quote for spec on its exchange
func (k *Kite) FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error) {
	instrument := KiteInstrument(spec)
	quote, err := Retry(ctx, k.retry, IsRetryable, func(ctx context.Context) (kiteconnect.Quote, error) {
		if err := ctx.Err(); err != nil {
			return nil, &ProviderError{Provider: k.Name(), Symbol: spec.Symbol, Kind: classifyTransport(err), Err: err}
		}
		q, err := k.client.GetQuote(instrument)
		if err != nil {
			return nil, k.classify(spec.Symbol, err)
		}
		return q, nil
	}, k.logger.With(zap.String("symbol", spec.Symbol)))
	if err != nil {
		return model.Tick{}, err
	}

	q, ok := quote[instrument]
	if !ok {
		// Unknown instruments come back as an empty map rather than an error
		return finishTick(model.Tick{Symbol: spec.Symbol}, k.Name(), k.logger), nil
	}

	tick := model.Tick{
		Symbol:        spec.Symbol,
		Price:         q.LastPrice,
		Open:          positive(q.OHLC.Open),
		High:          positive(q.OHLC.High),
		Low:           positive(q.OHLC.Low),
		PreviousClose: positive(q.OHLC.Close),
		Volume:        positive(float64(q.Volume)),
	}
	if !q.Timestamp.Time.IsZero() {
		tick.Timestamp = q.Timestamp.Time.UnixMilli()
	}
	return finishTick(tick, k.Name(), k.logger), nil
}

func (k *Kite) classify(symbol string, err error) error {
	var kerr kiteconnect.Error
	if errors.As(err, &kerr) {
		kind := classifyStatus(kerr.Code)
		if kerr.ErrorType == kiteconnect.TokenError || kerr.ErrorType == kiteconnect.PermissionError {
			kind = KindAuth
		}
		return &ProviderError{Provider: k.Name(), Symbol: symbol, Kind: kind, Status: kerr.Code, Err: fmt.Errorf("%s: %s", kerr.ErrorType, kerr.Message)}
	}
	return &ProviderError{Provider: k.Name(), Symbol: symbol, Kind: classifyTransport(err), Err: err}
}

// positive treats the zero values Kite uses for missing OHLC fields as absent
func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
