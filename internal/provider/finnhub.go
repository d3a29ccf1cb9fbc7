package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/yourorg/live-signals/internal/model"

	"go.uber.org/zap"
)

const FinnhubAPIBaseURL = "https://finnhub.io/api/v1"

// priceAliases are the last-price field names seen across providers
var priceAliases = []string{"c", "price", "close", "current", "lastPrice", "last"}

// Finnhub serves quotes from the Finnhub /quote endpoint
type Finnhub struct {
	token  string
	http   *jsonClient
	logger *zap.Logger
}

// NewFinnhub creates a Finnhub adapter
func NewFinnhub(token string, opts Options, logger *zap.Logger) *Finnhub {
	opts = opts.withDefaults(FinnhubAPIBaseURL)
	return &Finnhub{
		token:  token,
		http:   newJSONClient("finnhub", opts, logger),
		logger: logger,
	}
}

func (f *Finnhub) Name() string { return "finnhub" }

// FetchTick retrieves the latest quote for spec
func (f *Finnhub) FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error) {
	p, err := f.http.get(ctx, spec.Symbol, func(ctx context.Context) (*http.Request, error) {
		params := url.Values{}
		params.Set("symbol", spec.Symbol)
		params.Set("token", f.token)
		return http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/quote?%s", f.http.opts.BaseURL, params.Encode()), nil)
	})
	if err != nil {
		return model.Tick{}, err
	}
	if msg := p.str("error"); msg != "" {
		return model.Tick{}, &ProviderError{Provider: f.Name(), Symbol: spec.Symbol, Kind: KindRejected, Err: fmt.Errorf("%s", msg)}
	}
	return finishTick(f.normalize(spec, p), f.Name(), f.logger), nil
}

func (f *Finnhub) normalize(spec model.SymbolSpec, p payload) model.Tick {
	price, _ := p.number(priceAliases...)
	ts, _ := p.number("t", "timestamp")
	return model.Tick{
		Symbol:        spec.Symbol,
		Price:         price,
		Open:          p.optional("o", "open"),
		High:          p.optional("h", "high"),
		Low:           p.optional("l", "low"),
		PreviousClose: p.optional("pc", "prevClose", "previousClose"),
		Volume:        p.optional("v", "volume"),
		Timestamp:     epochMillis(ts),
	}
}
