package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yourorg/live-signals/internal/cache"
	"github.com/yourorg/live-signals/internal/history"
	"github.com/yourorg/live-signals/internal/metrics"
	"github.com/yourorg/live-signals/internal/model"
	"github.com/yourorg/live-signals/internal/provider"
	"github.com/yourorg/live-signals/internal/scoring"
	"github.com/yourorg/live-signals/internal/sink"

	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	inFlight int32
	peak     int32
	delay    time.Duration
	price    float64
}

func newFakeFetcher(price float64) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), price: price}
}

func (f *fakeFetcher) FetchTick(_ context.Context, spec model.SymbolSpec) (model.Tick, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls[spec.Symbol]++
	f.mu.Unlock()

	if spec.Symbol == "BAD" {
		return model.Tick{}, &provider.ProviderError{Provider: "fake", Symbol: spec.Symbol, Kind: provider.KindTransient, Err: errors.New("boom")}
	}
	return model.Tick{Symbol: spec.Symbol, Price: f.price, PreviousClose: model.Float(f.price), Timestamp: time.Now().UnixMilli()}, nil
}

func (f *fakeFetcher) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

type recordingSink struct {
	mu      sync.Mutex
	records []sink.Record
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Write(_ context.Context, rec sink.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func newTestPoller(cfg Config, f Fetcher, s sink.Sink) (*Poller, *metrics.Metrics) {
	m := metrics.New()
	p := NewPoller(cfg, Deps{
		Fetcher: f,
		Cache:   cache.New[model.Tick](cache.LiveQuoteTTL, zap.NewNop()),
		History: history.NewBuffer(history.DefaultCapacity),
		Engine:  scoring.NewEngine(),
		Sink:    s,
		Metrics: m,
	}, zap.NewNop())
	return p, m
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	f := newFakeFetcher(100)
	rec := &recordingSink{}
	p, _ := newTestPoller(Config{BatchSize: 2}, f, rec)
	for _, sym := range []string{"AAA", "BAD", "CCC"} {
		p.Add(model.SymbolSpec{Symbol: sym, Class: model.ClassStock})
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	for _, sym := range []string{"AAA", "CCC"} {
		res, ok := p.Latest(sym)
		if !ok {
			t.Fatalf("missing result for %s", sym)
		}
		if res.EntryPrice != 100 {
			t.Fatalf("unexpected entry price %v", res.EntryPrice)
		}
	}
	if _, ok := p.Latest("BAD"); ok {
		t.Fatal("failed symbol must not produce a result")
	}
	if rec.len() != 2 {
		t.Fatalf("expected 2 sink writes, got %d", rec.len())
	}
}

func TestCachedQuoteIsConsumedOnce(t *testing.T) {
	f := newFakeFetcher(100)
	rec := &recordingSink{}
	buf := history.NewBuffer(history.DefaultCapacity)
	p := NewPoller(Config{}, Deps{
		Fetcher: f,
		Cache:   cache.New[model.Tick](cache.LiveQuoteTTL, zap.NewNop()),
		History: buf,
		Sink:    rec,
	}, zap.NewNop())
	p.Add(model.SymbolSpec{Symbol: "AAA", Class: model.ClassStock})

	for i := 0; i < 3; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if f.count("AAA") != 1 {
		t.Fatalf("quotes inside the TTL must come from the cache, got %d fetches", f.count("AAA"))
	}
	s, _ := buf.Snapshot("stock:AAA")
	if s.Len() != 1 {
		t.Fatalf("a cached quote must be appended once, history has %d samples", s.Len())
	}
	if rec.len() != 1 {
		t.Fatalf("expected one write, got %d", rec.len())
	}
	if _, ok := p.Latest("AAA"); !ok {
		t.Fatal("latest result missing")
	}
}

func TestUnchangedConfidenceIsNotRewritten(t *testing.T) {
	f := newFakeFetcher(100)
	rec := &recordingSink{}
	p, _ := newTestPoller(Config{QuoteTTL: time.Nanosecond}, f, rec)
	p.Add(model.SymbolSpec{Symbol: "AAA", Class: model.ClassStock})

	for i := 0; i < 3; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if f.count("AAA") != 3 {
		t.Fatalf("expected a fresh quote per cycle, got %d fetches", f.count("AAA"))
	}
	if rec.len() != 1 {
		t.Fatalf("expected a single write for a flat confidence, got %d", rec.len())
	}
}

type gatedFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedFetcher) FetchTick(_ context.Context, spec model.SymbolSpec) (model.Tick, error) {
	close(g.started)
	<-g.release
	return model.Tick{Symbol: spec.Symbol, Price: 100, Timestamp: time.Now().UnixMilli()}, nil
}

func TestRemoveDuringCycleDropsResult(t *testing.T) {
	g := &gatedFetcher{started: make(chan struct{}), release: make(chan struct{})}
	rec := &recordingSink{}
	buf := history.NewBuffer(history.DefaultCapacity)
	p := NewPoller(Config{}, Deps{
		Fetcher: g,
		Cache:   cache.New[model.Tick](cache.LiveQuoteTTL, zap.NewNop()),
		History: buf,
		Sink:    rec,
	}, zap.NewNop())
	p.Add(model.SymbolSpec{Symbol: "AAA", Class: model.ClassStock})

	done := make(chan error, 1)
	go func() { done <- p.RunOnce(context.Background()) }()
	<-g.started
	p.Remove(context.Background(), "AAA")
	close(g.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if _, ok := p.Latest("AAA"); ok {
		t.Fatal("a removed symbol must not get a result")
	}
	if _, ok := buf.Snapshot("stock:AAA"); ok {
		t.Fatal("a removed symbol must not keep history")
	}
	if rec.len() != 0 {
		t.Fatalf("a removed symbol must not be written, got %d writes", rec.len())
	}
}

func TestBatchConcurrencyIsBounded(t *testing.T) {
	f := newFakeFetcher(50)
	f.delay = 20 * time.Millisecond
	p, _ := newTestPoller(Config{BatchSize: 2}, f, sink.Nop{})
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		p.Add(model.SymbolSpec{Symbol: sym, Class: model.ClassCrypto})
	}

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if peak := atomic.LoadInt32(&f.peak); peak > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", peak)
	}
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		if f.count(sym) != 1 {
			t.Fatalf("%s fetched %d times", sym, f.count(sym))
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p, _ := newTestPoller(Config{PollInterval: time.Hour}, newFakeFetcher(1), sink.Nop{})
	p.Add(model.SymbolSpec{Symbol: "AAA", Class: model.ClassStock})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type fakeSeeder struct{ calls int32 }

func (s *fakeSeeder) Klines(_ context.Context, spec model.SymbolSpec, _ string, limit int) ([]model.Tick, error) {
	atomic.AddInt32(&s.calls, 1)
	var out []model.Tick
	for i := 0; i < 30 && i < limit; i++ {
		out = append(out, model.Tick{Symbol: spec.Symbol, Price: float64(100 + i), Timestamp: int64(i) * 60_000})
	}
	return out, nil
}

func TestCryptoHistoryIsSeededOnce(t *testing.T) {
	seeder := &fakeSeeder{}
	buf := history.NewBuffer(history.DefaultCapacity)
	p := NewPoller(Config{QuoteTTL: time.Nanosecond}, Deps{
		Fetcher: newFakeFetcher(130),
		Cache:   cache.New[model.Tick](cache.LiveQuoteTTL, zap.NewNop()),
		History: buf,
		Seeder:  seeder,
	}, zap.NewNop())
	spec := model.SymbolSpec{Symbol: "BTCUSDT", Class: model.ClassCrypto}
	p.Add(spec)
	p.Add(model.SymbolSpec{Symbol: "INFY", Class: model.ClassStock})

	for i := 0; i < 2; i++ {
		if err := p.RunOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if atomic.LoadInt32(&seeder.calls) != 1 {
		t.Fatalf("expected one seeding call, got %d", seeder.calls)
	}
	s, _ := buf.Snapshot(spec.Key())
	if s.Len() != 32 {
		t.Fatalf("expected 30 seeded samples plus 2 live ticks, got %d", s.Len())
	}
	if _, ok := buf.Snapshot("stock:INFY"); !ok {
		t.Fatal("stock symbol should still be polled")
	}
}

func TestAddRemove(t *testing.T) {
	p, _ := newTestPoller(Config{}, newFakeFetcher(10), sink.Nop{})
	spec := model.SymbolSpec{Symbol: "AAA", Class: model.ClassStock}
	if !p.Add(spec) || p.Add(spec) {
		t.Fatal("Add must reject duplicates")
	}
	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !p.Remove(context.Background(), "AAA") {
		t.Fatal("Remove should report the removed symbol")
	}
	if len(p.Symbols()) != 0 {
		t.Fatalf("universe not empty: %v", p.Symbols())
	}
	if _, ok := p.Latest("AAA"); ok {
		t.Fatal("latest result must be dropped on remove")
	}
	if p.Remove(context.Background(), "AAA") {
		t.Fatal("second remove should report false")
	}
}
