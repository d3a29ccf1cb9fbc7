// Package provider adapts third-party quote APIs to the normalized model.Tick.
//
// Every adapter owns one upstream: it builds the provider specific request,
// runs it under the shared retry policy and resolves the provider's field
// aliases into a Tick. A payload that resolves no price is not an error; the
// tick carries Price 0 and nil optionals.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/live-signals/internal/model"

	"go.uber.org/zap"
)

// Adapter fetches a normalized tick from one upstream provider
type Adapter interface {
	Name() string
	FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error)
}

// Router picks the adapter serving a symbol
type Router struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	routes   map[model.AssetClass]string
	logger   *zap.Logger
}

// NewRouter creates a router with the class to provider routing table
func NewRouter(routes map[model.AssetClass]string, logger *zap.Logger, adapters ...Adapter) *Router {
	r := &Router{
		adapters: make(map[string]Adapter, len(adapters)),
		routes:   make(map[model.AssetClass]string, len(routes)),
		logger:   logger,
	}
	for class, name := range routes {
		r.routes[class] = name
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter under its name
func (r *Router) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Providers lists the registered adapter names
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the adapter for spec. A non-empty hint overrides the class route.
func (r *Router) Resolve(spec model.SymbolSpec, hint string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := hint
	if name == "" {
		var ok bool
		name, ok = r.routes[spec.Class]
		if !ok {
			return nil, fmt.Errorf("no provider routed for class %q", spec.Class)
		}
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return a, nil
}

// FetchTick resolves the adapter by class and fetches through it
func (r *Router) FetchTick(ctx context.Context, spec model.SymbolSpec) (model.Tick, error) {
	return r.FetchTickVia(ctx, spec, "")
}

// FetchTickVia fetches through the hinted adapter, or the class route when hint is empty
func (r *Router) FetchTickVia(ctx context.Context, spec model.SymbolSpec, hint string) (model.Tick, error) {
	a, err := r.Resolve(spec, hint)
	if err != nil {
		return model.Tick{}, &ProviderError{Provider: hint, Symbol: spec.Symbol, Kind: KindRejected, Err: err}
	}
	return a.FetchTick(ctx, spec)
}

// finishTick stamps defaults on a normalized tick and reports unresolved prices
func finishTick(t model.Tick, source string, logger *zap.Logger) model.Tick {
	t.Source = source
	if t.Timestamp == 0 {
		t.Timestamp = time.Now().UnixMilli()
	}
	if !t.HasPrice() {
		logger.Warn("Provider response carried no recognizable price",
			zap.String("provider", source),
			zap.String("symbol", t.Symbol))
	}
	return t
}

// epochMillis normalizes a provider timestamp given in seconds or milliseconds
func epochMillis(v float64) int64 {
	if v <= 0 {
		return 0
	}
	if v < 1e12 {
		return int64(v * 1000)
	}
	return int64(v)
}
