package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yourorg/live-signals/internal/model"

	"go.uber.org/zap"
)

const TwelveDataAPIBaseURL = "https://api.twelvedata.com"

// TwelveData serves quotes from the Twelve Data /quote endpoint
type TwelveData struct {
	apiKey string
	http   *jsonClient
	logger *zap.Logger
}

// NewTwelveData creates a Twelve Data adapter
func NewTwelveData(apiKey string, opts Options, logger *zap.Logger) *TwelveData {
	opts = opts.withDefaults(TwelveDataAPIBaseURL)
	return &TwelveData{
		apiKey: apiKey,
		http:   newJSONClient("twelvedata", opts, logger),
		logger: logger,
	}
}

func (t *TwelveData) Name() string { return "twelvedata" }

// FetchTick retrieves the latest quote for spec
func (t *TwelveData) FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error) {
	p, err := t.http.get(ctx, spec.Symbol, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("symbol", spec.Symbol)
		params.Set("apikey", t.apiKey)
		return http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/quote?%s", t.http.opts.BaseURL, params.Encode()), nil)
	})
	if err != nil {
		return model.Tick{}, err
	}

	// Twelve Data reports failures in a 200 body
	if p.str("status") == "error" {
		code, _ := p.number("code")
		kind := KindRejected
		if code >= 400 {
			kind = classifyStatus(int(code))
		}
		return model.Tick{}, &ProviderError{
			Provider: t.Name(),
			Symbol:   spec.Symbol,
			Kind:     kind,
			Status:   int(code),
			Err:      fmt.Errorf("twelvedata error: %s", p.str("message")),
		}
	}
	return finishTick(t.normalize(spec, p), t.Name(), t.logger), nil
}

func (t *TwelveData) normalize(spec model.SymbolSpec, p payload) model.Tick {
	price, _ := p.number("close", "price", "current", "lastPrice")
	ts, _ := p.number("last_quote_at", "timestamp")
	return model.Tick{
		Symbol:        spec.Symbol,
		Price:         price,
		Open:          p.optional("open"),
		High:          p.optional("high"),
		Low:           p.optional("low"),
		PreviousClose: p.optional("previous_close", "prevClose"),
		Volume:        p.optional("volume"),
		Timestamp:     epochMillis(ts),
	}
}
