package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yourorg/live-signals/internal/model"

	"go.uber.org/zap"
)

const AlphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantage serves quotes from the GLOBAL_QUOTE function
type AlphaVantage struct {
	apiKey string
	http   *jsonClient
	logger *zap.Logger
}

// NewAlphaVantage creates an Alpha Vantage adapter
func NewAlphaVantage(apiKey string, opts Options, logger *zap.Logger) *AlphaVantage {
	opts = opts.withDefaults(AlphaVantageBaseURL)
	return &AlphaVantage{
		apiKey: apiKey,
		http:   newJSONClient("alphavantage", opts, logger),
		logger: logger,
	}
}

func (a *AlphaVantage) Name() string { return "alphavantage" }

// FetchTick retrieves the global quote for spec
func (a *AlphaVantage) FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error) {
	p, err := a.http.get(ctx, spec.Symbol, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("function", "GLOBAL_QUOTE")
		params.Set("symbol", spec.Symbol)
		params.Set("apikey", a.apiKey)
		return http.NewRequestWithContext(ctx, http.MethodGet, a.http.opts.BaseURL+"?"+params.Encode(), nil)
	})
	if err != nil {
		return model.Tick{}, err
	}

	// Throttling is reported as a 200 with a "Note" or "Information" field
	if note := p.str("Note", "Information"); note != "" {
		return model.Tick{}, &ProviderError{Provider: a.Name(), Symbol: spec.Symbol, Kind: KindTransient, Err: errors.New(note)}
	}
	if msg := p.str("Error Message"); msg != "" {
		return model.Tick{}, &ProviderError{Provider: a.Name(), Symbol: spec.Symbol, Kind: KindRejected, Err: fmt.Errorf("alphavantage: %s", msg)}
	}
	return finishTick(a.normalize(spec, p), a.Name(), a.logger), nil
}

func (a *AlphaVantage) normalize(spec model.SymbolSpec, p payload) model.Tick {
	price, _ := p.number("Global Quote.05. price", "price")
	return model.Tick{
		Symbol:        spec.Symbol,
		Price:         price,
		Open:          p.optional("Global Quote.02. open"),
		High:          p.optional("Global Quote.03. high"),
		Low:           p.optional("Global Quote.04. low"),
		PreviousClose: p.optional("Global Quote.08. previous close"),
		Volume:        p.optional("Global Quote.06. volume"),
	}
}
