// Package scheduler drives the periodic fetch, score and publish cycle over
// the active symbol universe.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yourorg/live-signals/internal/cache"
	"github.com/yourorg/live-signals/internal/history"
	"github.com/yourorg/live-signals/internal/metrics"
	"github.com/yourorg/live-signals/internal/model"
	"github.com/yourorg/live-signals/internal/provider"
	"github.com/yourorg/live-signals/internal/scoring"
	"github.com/yourorg/live-signals/internal/sink"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of symbols fetched concurrently
	DefaultBatchSize = 20
	// DefaultBatchInterval is the pause between batches of one cycle
	DefaultBatchInterval = time.Second
	// DefaultPollInterval is the pause between cycles
	DefaultPollInterval = 2 * time.Second
)

// Config controls batching and pacing
type Config struct {
	BatchSize     int
	BatchInterval time.Duration
	PollInterval  time.Duration
	QuoteTTL      time.Duration
	// SeedInterval is the candle interval used to backfill crypto history
	SeedInterval string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchInterval < 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = cache.LiveQuoteTTL
	}
	if c.SeedInterval == "" {
		c.SeedInterval = "1m"
	}
	return c
}

// Fetcher retrieves a live tick; provider.Router is the production implementation
type Fetcher interface {
	FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error)
}

// Seeder backfills history from historical candles
type Seeder interface {
	Klines(ctx context.Context, spec model.SymbolSpec, interval string, limit int) ([]model.Tick, error)
}

// Deps are the collaborators of a Poller. Seeder is optional.
type Deps struct {
	Fetcher Fetcher
	Cache   *cache.Cache[model.Tick]
	History *history.Buffer
	Engine  *scoring.Engine
	Sink    sink.Sink
	Metrics *metrics.Metrics
	Seeder  Seeder
}

// Poller owns the symbol universe and the latest result per symbol
type Poller struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	universe []model.SymbolSpec
	latest   map[string]model.ScoreResult
	notified map[string]int
	seeded   map[string]bool
	// consumed holds the FetchedAt of the last quote scored per spec key
	consumed map[string]time.Time
}

// NewPoller creates a poller with an empty universe. A nil Sink discards
// results and a nil Engine scores over DefaultTimeframes.
func NewPoller(cfg Config, deps Deps, logger *zap.Logger) *Poller {
	if deps.Sink == nil {
		deps.Sink = sink.Nop{}
	}
	if deps.Engine == nil {
		deps.Engine = scoring.NewEngine()
	}
	return &Poller{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		logger:   logger,
		now:      time.Now,
		latest:   make(map[string]model.ScoreResult),
		notified: make(map[string]int),
		seeded:   make(map[string]bool),
		consumed: make(map[string]time.Time),
	}
}

// Add appends spec to the universe. It reports false if the spec is already polled.
func (p *Poller) Add(spec model.SymbolSpec) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.polledLocked(spec.Key()) {
		return false
	}
	p.universe = append(p.universe, spec)
	return true
}

// Remove drops every spec for symbol together with its cached state
func (p *Poller) Remove(ctx context.Context, symbol string) bool {
	p.mu.Lock()
	var removed []model.SymbolSpec
	kept := p.universe[:0]
	for _, s := range p.universe {
		if s.Symbol == symbol {
			removed = append(removed, s)
			continue
		}
		kept = append(kept, s)
	}
	p.universe = kept
	delete(p.latest, symbol)
	for _, s := range removed {
		delete(p.notified, sink.RecordSymbol(s))
		delete(p.seeded, s.Key())
		delete(p.consumed, s.Key())
	}
	p.mu.Unlock()

	for _, s := range removed {
		p.deps.History.Remove(s.Key())
		if err := p.deps.Cache.Invalidate(ctx, s.Key()); err != nil {
			p.logger.Warn("Failed to invalidate cached quote", zap.String("key", s.Key()), zap.Error(err))
		}
	}
	return len(removed) > 0
}

// Symbols returns a copy of the universe in polling order
func (p *Poller) Symbols() []model.SymbolSpec {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.SymbolSpec(nil), p.universe...)
}

// Latest returns the most recent result for symbol
func (p *Poller) Latest(symbol string) (model.ScoreResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res, ok := p.latest[symbol]
	return res, ok
}

// Run polls until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Poller started",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("poll_interval", p.cfg.PollInterval))
	for {
		if err := p.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logger.Info("Poller stopped")
				return nil
			}
			return err
		}
		if !sleep(ctx, p.cfg.PollInterval) {
			p.logger.Info("Poller stopped")
			return nil
		}
	}
}

// RunOnce polls every symbol once, batch by batch. Symbol failures are
// logged and counted; only cancellation ends the cycle early.
func (p *Poller) RunOnce(ctx context.Context) error {
	cycleID := uuid.NewString()
	logger := p.logger.With(zap.String("cycle_id", cycleID))
	start := p.now()

	symbols := p.Symbols()
	for i := 0; i < len(symbols); i += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + p.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		var g errgroup.Group
		g.SetLimit(p.cfg.BatchSize)
		for _, spec := range symbols[i:end] {
			spec := spec
			g.Go(func() error {
				p.process(ctx, logger, spec)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(symbols) && !sleep(ctx, p.cfg.BatchInterval) {
			return ctx.Err()
		}
	}

	if m := p.deps.Metrics; m != nil {
		m.Cycles.Inc()
		m.CycleDuration.Observe(p.now().Sub(start).Seconds())
	}
	logger.Debug("Poll cycle finished",
		zap.Int("symbols", len(symbols)),
		zap.Duration("elapsed", p.now().Sub(start)))
	return ctx.Err()
}

func (p *Poller) process(ctx context.Context, logger *zap.Logger, spec model.SymbolSpec) {
	logger = logger.With(zap.String("symbol", spec.Symbol), zap.String("type", string(spec.Class)))
	key := spec.Key()

	p.seed(ctx, logger, spec)

	entry, err := p.deps.Cache.GetOrFetchEntry(ctx, key, p.cfg.QuoteTTL, func(ctx context.Context) (model.Tick, error) {
		return p.deps.Fetcher.FetchTick(ctx, spec)
	})
	if err != nil {
		kind := provider.KindOf(err)
		if ctx.Err() == nil {
			logger.Warn("Failed to fetch quote", zap.String("kind", string(kind)), zap.Error(err))
		}
		if m := p.deps.Metrics; m != nil {
			m.FetchErrors.WithLabelValues(string(kind)).Inc()
		}
		return
	}

	// A quote still cached from an earlier cycle was already appended and scored
	p.mu.Lock()
	last, seen := p.consumed[key]
	stale := seen && last.Equal(entry.FetchedAt)
	if !stale && p.polledLocked(key) {
		p.consumed[key] = entry.FetchedAt
	}
	p.mu.Unlock()
	if stale {
		logger.Debug("Quote unchanged since last cycle")
		return
	}
	tick := entry.Value

	var current *float64
	if tick.HasPrice() {
		p.deps.History.Append(key, tick)
		current = model.Float(tick.Price)
	} else {
		logger.Debug("Quote has no price, scoring existing history")
	}

	snap, _ := p.deps.History.Snapshot(key)
	res := p.deps.Engine.Evaluate(scoring.Input{
		Symbol:        spec.Symbol,
		Current:       current,
		PreviousClose: tick.PreviousClose,
		Series:        snap,
		Frames:        p.frames(snap),
	})

	p.mu.Lock()
	if !p.polledLocked(key) {
		p.mu.Unlock()
		p.deps.History.Remove(key)
		logger.Debug("Symbol removed while polling, dropping result")
		return
	}
	p.latest[spec.Symbol] = res
	p.mu.Unlock()
	if m := p.deps.Metrics; m != nil {
		m.Signals.WithLabelValues(string(res.Signal)).Inc()
	}

	p.publish(ctx, logger, spec, res)
}

// publish writes res unless its confidence equals the last one written for
// the same record symbol
func (p *Poller) publish(ctx context.Context, logger *zap.Logger, spec model.SymbolSpec, res model.ScoreResult) {
	rec := sink.NewRecord(spec, res, p.now())

	p.mu.Lock()
	last, seen := p.notified[rec.Symbol]
	if !p.polledLocked(spec.Key()) || (seen && last == res.Confidence) {
		p.mu.Unlock()
		return
	}
	p.notified[rec.Symbol] = res.Confidence
	p.mu.Unlock()

	status := "ok"
	if err := p.deps.Sink.Write(ctx, rec); err != nil {
		status = "error"
		logger.Warn("Sink write failed", zap.String("sink", p.deps.Sink.Name()), zap.Error(err))
	}
	if m := p.deps.Metrics; m != nil {
		m.SinkWrites.WithLabelValues(status).Inc()
	}
}

// polledLocked reports whether key is in the universe; p.mu must be held
func (p *Poller) polledLocked(key string) bool {
	for _, s := range p.universe {
		if s.Key() == key {
			return true
		}
	}
	return false
}

func (p *Poller) frames(snap history.Series) map[string]history.Series {
	tfs := p.deps.Engine.Timeframes()
	frames := make(map[string]history.Series, len(tfs))
	for _, tf := range tfs {
		d, err := scoring.TimeframeDuration(tf)
		if err != nil {
			continue
		}
		frames[tf] = snap.Resample(d)
	}
	return frames
}

// seed backfills a symbol's history once, before its first live tick
func (p *Poller) seed(ctx context.Context, logger *zap.Logger, spec model.SymbolSpec) {
	if p.deps.Seeder == nil || spec.Class != model.ClassCrypto {
		return
	}
	p.mu.Lock()
	done := p.seeded[spec.Key()]
	p.seeded[spec.Key()] = true
	p.mu.Unlock()
	if done {
		return
	}

	ticks, err := p.deps.Seeder.Klines(ctx, spec, p.cfg.SeedInterval, p.deps.History.Capacity())
	if err != nil {
		logger.Warn("Failed to seed history", zap.Error(err))
		return
	}
	for _, t := range ticks {
		if t.HasPrice() {
			p.deps.History.Append(spec.Key(), t)
		}
	}
	logger.Info("Seeded history", zap.Int("candles", len(ticks)), zap.String("interval", p.cfg.SeedInterval))
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
