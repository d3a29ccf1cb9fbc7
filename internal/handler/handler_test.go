package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/yourorg/live-signals/internal/cache"
	"github.com/yourorg/live-signals/internal/model"
	"github.com/yourorg/live-signals/internal/provider"
	"github.com/yourorg/live-signals/internal/repository"
	"github.com/yourorg/live-signals/internal/scoring"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAdapter struct {
	name  string
	calls int32
	err   error
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) FetchTick(_ context.Context, spec model.SymbolSpec) (model.Tick, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.err != nil {
		return model.Tick{}, a.err
	}
	return model.Tick{Symbol: spec.Symbol, Price: 101.5, PreviousClose: model.Float(100), Timestamp: 1700000000000, Source: a.name}, nil
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func quoteRouter(adapters ...provider.Adapter) *gin.Engine {
	routes := map[model.AssetClass]string{
		model.ClassStock:  "nse",
		model.ClassCrypto: "binance",
	}
	h := NewQuoteHandler(
		provider.NewRouter(routes, zap.NewNop(), adapters...),
		cache.New[model.Tick](cache.HeavyEndpointTTL, zap.NewNop()),
		cache.HeavyEndpointTTL,
		zap.NewNop(),
	)
	r := gin.New()
	r.GET("/api/v1/quotes", h.GetQuote)
	r.GET("/api/v1/quotes/providers", h.ListProviders)
	return r
}

func TestGetQuoteServesFromCache(t *testing.T) {
	nse := &fakeAdapter{name: "nse"}
	r := quoteRouter(nse, &fakeAdapter{name: "binance"})

	for i := 0; i < 3; i++ {
		rec := do(r, http.MethodGet, "/api/v1/quotes?symbol=INFY", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
		}
		var tick model.Tick
		if err := json.Unmarshal(rec.Body.Bytes(), &tick); err != nil {
			t.Fatal(err)
		}
		if tick.Symbol != "INFY" || tick.Price != 101.5 || tick.Source != "nse" {
			t.Fatalf("unexpected tick %+v", tick)
		}
	}
	if n := atomic.LoadInt32(&nse.calls); n != 1 {
		t.Fatalf("expected one upstream call inside the TTL, got %d", n)
	}
}

func TestGetQuoteErrors(t *testing.T) {
	failing := &fakeAdapter{name: "binance", err: &provider.ProviderError{Provider: "binance", Kind: provider.KindAuth, Err: errors.New("401")}}
	r := quoteRouter(&fakeAdapter{name: "nse"}, failing)

	cases := []struct {
		name string
		path string
		code int
		kind provider.ErrorKind
	}{
		{"missing symbol", "/api/v1/quotes", http.StatusBadRequest, ""},
		{"bad type", "/api/v1/quotes?symbol=X&type=forex", http.StatusBadRequest, ""},
		{"unknown provider", "/api/v1/quotes?symbol=X&provider=bloomberg", http.StatusBadRequest, ""},
		{"unrouted class", "/api/v1/quotes?symbol=NIFTY&type=index", http.StatusBadRequest, ""},
		{"upstream auth", "/api/v1/quotes?symbol=BTCUSDT&type=crypto", http.StatusInternalServerError, provider.KindAuth},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(r, http.MethodGet, tc.path, nil)
			if rec.Code != tc.code {
				t.Fatalf("status %d, want %d: %s", rec.Code, tc.code, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["error"] == "" {
				t.Fatal("missing error message")
			}
			if tc.kind != "" && body["kind"] != string(tc.kind) {
				t.Fatalf("kind = %q, want %q", body["kind"], tc.kind)
			}
		})
	}
}

func TestListProviders(t *testing.T) {
	r := quoteRouter(&fakeAdapter{name: "nse"}, &fakeAdapter{name: "binance"})
	rec := do(r, http.MethodGet, "/api/v1/quotes/providers", nil)
	var body struct {
		Providers []string `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Providers) != 2 || body.Providers[0] != "binance" {
		t.Fatalf("unexpected providers %v", body.Providers)
	}
}

type fakeSource map[string]model.ScoreResult

func (f fakeSource) Latest(symbol string) (model.ScoreResult, bool) {
	res, ok := f[symbol]
	return res, ok
}

type fakeStore struct {
	limit  int
	err    error
	stored map[string]repository.LivePrice
}

func (f *fakeStore) GetLivePrice(_ context.Context, symbol string) (*repository.LivePrice, error) {
	if f.err != nil {
		return nil, f.err
	}
	lp, ok := f.stored[symbol]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lp, nil
}

func (f *fakeStore) ListTicks(_ context.Context, symbol string, limit int) ([]repository.LivePrice, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []repository.LivePrice{{Symbol: symbol, Price: 10, Signal: "HOLD"}}, nil
}

func signalRouter(source SignalSource, store SignalStore) *gin.Engine {
	h := NewSignalHandler(source, scoring.NewEngine(), store, zap.NewNop())
	r := gin.New()
	r.POST("/api/v1/signals/score", h.Score)
	r.GET("/api/v1/signals/:symbol", h.GetSignal)
	r.GET("/api/v1/signals/:symbol/history", h.GetSignalHistory)
	return r
}

func TestGetSignal(t *testing.T) {
	r := signalRouter(fakeSource{"INFY": {Symbol: "INFY", Signal: model.SignalBuy, Confidence: 70}}, nil)

	rec := do(r, http.MethodGet, "/api/v1/signals/INFY", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var res model.ScoreResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Signal != model.SignalBuy || res.Confidence != 70 {
		t.Fatalf("unexpected result %+v", res)
	}

	if rec := do(r, http.MethodGet, "/api/v1/signals/TCS", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown symbol got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/api/v1/signals/INFY/history", nil); rec.Code != http.StatusNotImplemented {
		t.Fatalf("history without a database got %d", rec.Code)
	}
}

func TestGetSignalFallsBackToStore(t *testing.T) {
	store := &fakeStore{stored: map[string]repository.LivePrice{
		"TCS": {
			Symbol:     "TCS",
			Price:      3500,
			Signal:     "SELL",
			StopLoss:   3527.3,
			Indicators: []byte(`{"hasFVG":true}`),
		},
	}}
	r := signalRouter(fakeSource{"INFY": {Symbol: "INFY", Signal: model.SignalBuy}}, store)

	rec := do(r, http.MethodGet, "/api/v1/signals/TCS", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Symbol     string          `json:"symbol"`
		Signal     string          `json:"signal"`
		Price      float64         `json:"price"`
		Indicators json.RawMessage `json:"indicators"`
		Source     string          `json:"source"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Source != "store" || body.Signal != "SELL" || body.Price != 3500 {
		t.Fatalf("unexpected stored signal %+v", body)
	}
	if string(body.Indicators) != `{"hasFVG":true}` {
		t.Fatalf("indicators = %s", body.Indicators)
	}

	rec = do(r, http.MethodGet, "/api/v1/signals/INFY", nil)
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"BUY"`)) || bytes.Contains(rec.Body.Bytes(), []byte(`"source"`)) {
		t.Fatalf("poller results must win over the store: %s", rec.Body.String())
	}
	if rec := do(r, http.MethodGet, "/api/v1/signals/WIPRO", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown symbol got %d", rec.Code)
	}

	store.err = errors.New("db down")
	if rec := do(r, http.MethodGet, "/api/v1/signals/WIPRO", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("store failure got %d", rec.Code)
	}
}

func TestGetSignalHistory(t *testing.T) {
	ticks := &fakeStore{}
	r := signalRouter(fakeSource{}, ticks)

	rec := do(r, http.MethodGet, "/api/v1/signals/INFY/history?limit=5", nil)
	if rec.Code != http.StatusOK || ticks.limit != 5 {
		t.Fatalf("status %d limit %d", rec.Code, ticks.limit)
	}
	if rec := do(r, http.MethodGet, "/api/v1/signals/INFY/history?limit=0", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit got %d", rec.Code)
	}

	ticks.err = errors.New("db down")
	if rec := do(r, http.MethodGet, "/api/v1/signals/INFY/history", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("db failure got %d", rec.Code)
	}
}

func TestScoreRisingSeries(t *testing.T) {
	r := signalRouter(fakeSource{}, nil)
	var prices []float64
	for p := 100.0; p <= 120; p++ {
		prices = append(prices, p)
	}

	rec := do(r, http.MethodPost, "/api/v1/signals/score", ScoreRequest{
		Symbol:        "TEST",
		Current:       model.Float(120),
		PreviousClose: model.Float(100),
		Prices:        prices,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res model.ScoreResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Signal != model.SignalBuy || res.Confidence != 79 || res.BestTimeframe != "5m" {
		t.Fatalf("unexpected result %s %d %s", res.Signal, res.Confidence, res.BestTimeframe)
	}
}

func TestScoreRejectsBadBodies(t *testing.T) {
	r := signalRouter(fakeSource{}, nil)
	for name, body := range map[string]any{
		"missing symbol": map[string]any{"prices": []float64{1, 2}},
		"short highs":    ScoreRequest{Symbol: "X", Prices: []float64{1, 2}, Highs: []float64{1}},
		"short stamps":   ScoreRequest{Symbol: "X", Prices: []float64{1, 2}, Timestamps: []int64{1}},
	} {
		if rec := do(r, http.MethodPost, "/api/v1/signals/score", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d", name, rec.Code)
		}
	}

	rec := do(r, http.MethodPost, "/api/v1/signals/score", ScoreRequest{Symbol: "EMPTY"})
	var res model.ScoreResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Signal != model.SignalHold || res.Confidence != 50 {
		t.Fatalf("empty series should be neutral, got %s %d", res.Signal, res.Confidence)
	}
}

type fakeUniverse struct {
	specs []model.SymbolSpec
}

func (u *fakeUniverse) Symbols() []model.SymbolSpec { return u.specs }

func (u *fakeUniverse) Add(spec model.SymbolSpec) bool {
	for _, s := range u.specs {
		if s.Key() == spec.Key() {
			return false
		}
	}
	u.specs = append(u.specs, spec)
	return true
}

func (u *fakeUniverse) Remove(_ context.Context, symbol string) bool {
	for i, s := range u.specs {
		if s.Symbol == symbol {
			u.specs = append(u.specs[:i], u.specs[i+1:]...)
			return true
		}
	}
	return false
}

func TestSymbolsLifecycle(t *testing.T) {
	u := &fakeUniverse{}
	h := NewSymbolsHandler(u, zap.NewNop())
	r := gin.New()
	r.GET("/api/v1/symbols", h.ListSymbols)
	r.POST("/api/v1/symbols", h.AddSymbol)
	r.DELETE("/api/v1/symbols/:symbol", h.RemoveSymbol)

	add := AddSymbolRequest{Symbol: "BTCUSDT", Type: "crypto"}
	if rec := do(r, http.MethodPost, "/api/v1/symbols", add); rec.Code != http.StatusCreated {
		t.Fatalf("add got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(r, http.MethodPost, "/api/v1/symbols", add); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate add got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/api/v1/symbols", AddSymbolRequest{Symbol: "X", Type: "forex"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type got %d", rec.Code)
	}

	rec := do(r, http.MethodGet, "/api/v1/symbols", nil)
	var list struct {
		Symbols []model.SymbolSpec `json:"symbols"`
		Count   int                `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Symbols[0].Class != model.ClassCrypto {
		t.Fatalf("unexpected list %+v", list)
	}

	if rec := do(r, http.MethodDelete, "/api/v1/symbols/BTCUSDT", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("remove got %d", rec.Code)
	}
	if rec := do(r, http.MethodDelete, "/api/v1/symbols/BTCUSDT", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second remove got %d", rec.Code)
	}
}
