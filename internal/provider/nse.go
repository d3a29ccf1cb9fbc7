package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yourorg/live-signals/internal/model"

	"go.uber.org/zap"
)

const (
	NSEBaseURL = "https://www.nseindia.com"

	nseCookieTTL = 5 * time.Minute
)

// nseHeaders are required by NSE; requests without them are rejected with 401/403
var nseHeaders = map[string]string{
	"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Referer":          "https://www.nseindia.com/",
	"Accept-Language":  "en-US,en;q=0.9",
	"X-Requested-With": "XMLHttpRequest",
}

// nseIndexNames maps compact index symbols to the names NSE expects
var nseIndexNames = map[string]string{
	"NIFTY50":     "NIFTY 50",
	"NIFTYBANK":   "NIFTY BANK",
	"BANKNIFTY":   "NIFTY BANK",
	"NIFTYIT":     "NIFTY IT",
	"FINNIFTY":    "FINNIFTY",
	"NIFTYPHARMA": "NIFTY PHARMA",
	"NIFTYFMCG":   "NIFTY FMCG",
	"NIFTYAUTO":   "NIFTY AUTO",
}

// NSESymbol strips exchange decorations such as "NSE:" and ".NS"
func NSESymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimPrefix(s, "NSE:")
	return strings.TrimSuffix(s, ".NS")
}

// NSEIndexName returns the NSE display name of an index symbol
func NSEIndexName(symbol string) string {
	s := NSESymbol(symbol)
	if name, ok := nseIndexNames[strings.ReplaceAll(s, " ", "")]; ok {
		return name
	}
	return s
}

// NSE serves equity and index quotes from the NSE India website API
type NSE struct {
	http   *jsonClient
	logger *zap.Logger

	mu       sync.Mutex
	warmedAt time.Time
}

// NewNSE creates an NSE adapter. NSE hands out session cookies on the home
// page, so the client always carries a cookie jar.
func NewNSE(opts Options, logger *zap.Logger) *NSE {
	opts = opts.withDefaults(NSEBaseURL)
	if opts.HTTPClient.Jar == nil {
		jar, _ := cookiejar.New(nil)
		client := *opts.HTTPClient
		client.Jar = jar
		opts.HTTPClient = &client
	}
	return &NSE{
		http:   newJSONClient("nse", opts, logger),
		logger: logger,
	}
}

func (n *NSE) Name() string { return "nse" }

// FetchTick retrieves the latest quote for spec; index symbols use the index endpoint
func (n *NSE) FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error) {
	n.warm(ctx)

	var reqURL string
	if spec.Class == model.ClassIndex {
		reqURL = fmt.Sprintf("%s/api/equity-stockIndices?index=%s", n.http.opts.BaseURL, url.QueryEscape(NSEIndexName(spec.Symbol)))
	} else {
		reqURL = fmt.Sprintf("%s/api/quote-equity?symbol=%s", n.http.opts.BaseURL, url.QueryEscape(NSESymbol(spec.Symbol)))
	}

	p, err := n.http.get(ctx, spec.Symbol, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range nseHeaders {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		if KindOf(err) == KindAuth {
			n.expireCookies()
		}
		return model.Tick{}, err
	}

	var tick model.Tick
	if spec.Class == model.ClassIndex {
		tick = n.normalizeIndex(spec, p)
	} else {
		tick = n.normalizeEquity(spec, p)
	}
	return finishTick(tick, n.Name(), n.logger), nil
}

func (n *NSE) normalizeEquity(spec model.SymbolSpec, p payload) model.Tick {
	price, _ := p.number("priceInfo.lastPrice", "lastPrice", "price", "close")
	return model.Tick{
		Symbol:        spec.Symbol,
		Price:         price,
		Open:          p.optional("priceInfo.open", "open"),
		High:          p.optional("priceInfo.intraDayHighLow.max", "priceInfo.high", "high"),
		Low:           p.optional("priceInfo.intraDayHighLow.min", "priceInfo.low", "low"),
		PreviousClose: p.optional("priceInfo.previousClose", "priceInfo.pClose", "prevClose"),
		Volume:        p.optional("securityInfo.totalTradedVolume", "preOpenMarket.totalTradedVolume"),
	}
}

func (n *NSE) normalizeIndex(spec model.SymbolSpec, p payload) model.Tick {
	price, _ := p.number("data.0.last", "data.0.lastPrice", "data.0.close")
	return model.Tick{
		Symbol:        spec.Symbol,
		Price:         price,
		Open:          p.optional("data.0.open"),
		High:          p.optional("data.0.dayHigh"),
		Low:           p.optional("data.0.dayLow"),
		PreviousClose: p.optional("data.0.previousClose"),
		Volume:        p.optional("data.0.totalTradedVolume"),
	}
}

// warm requests the home page so the jar holds fresh session cookies
func (n *NSE) warm(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if time.Since(n.warmedAt) < nseCookieTTL {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.http.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.http.opts.BaseURL, nil)
	if err != nil {
		return
	}
	for k, v := range nseHeaders {
		req.Header.Set(k, v)
	}
	resp, err := n.http.opts.HTTPClient.Do(req)
	if err != nil {
		n.logger.Debug("NSE cookie warm-up failed", zap.Error(err))
		return
	}
	resp.Body.Close()
	n.warmedAt = time.Now()
}

func (n *NSE) expireCookies() {
	n.mu.Lock()
	n.warmedAt = time.Time{}
	n.mu.Unlock()
}
