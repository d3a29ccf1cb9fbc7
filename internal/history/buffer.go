// Package history keeps a bounded, per-symbol rolling window of polled ticks.
package history

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yourorg/live-signals/internal/model"
)

// DefaultCapacity is the number of samples kept per symbol
const DefaultCapacity = 100

// Buffer is safe for concurrent use
type Buffer struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*Series
}

// NewBuffer creates a buffer holding at most capacity samples per symbol
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		series:   make(map[string]*Series),
	}
}

// Capacity returns the per-symbol sample limit
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Append records tick for symbol. Missing high and low fall back to the
// price and missing volume is recorded as 0. Ticks are never deduplicated.
func (b *Buffer) Append(symbol string, tick model.Tick) {
	high := model.ValueOr(tick.High, tick.Price)
	low := model.ValueOr(tick.Low, tick.Price)
	volume := model.ValueOr(tick.Volume, 0)

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.series[symbol]
	if !ok {
		s = &Series{}
		b.series[symbol] = s
	}
	s.mustAligned(symbol)

	if s.Len() == b.capacity {
		s.dropFirst()
	}
	s.Prices = append(s.Prices, tick.Price)
	s.Highs = append(s.Highs, high)
	s.Lows = append(s.Lows, low)
	s.Volumes = append(s.Volumes, volume)
	s.Timestamps = append(s.Timestamps, tick.Timestamp)
}

// Snapshot returns a copy of the symbol's series that later appends do not touch
func (b *Buffer) Snapshot(symbol string) (Series, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.series[symbol]
	if !ok {
		return Series{}, false
	}
	s.mustAligned(symbol)
	return s.Clone(), true
}

// Symbols returns the symbols with recorded history, sorted
func (b *Buffer) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.series))
	for sym := range b.series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Remove forgets the symbol's history
func (b *Buffer) Remove(symbol string) {
	b.mu.Lock()
	delete(b.series, symbol)
	b.mu.Unlock()
}

func (s *Series) mustAligned(symbol string) {
	n := len(s.Prices)
	if len(s.Highs) != n || len(s.Lows) != n || len(s.Volumes) != n || len(s.Timestamps) != n {
		panic(fmt.Sprintf("history: misaligned series for %s: prices=%d highs=%d lows=%d volumes=%d timestamps=%d",
			symbol, n, len(s.Highs), len(s.Lows), len(s.Volumes), len(s.Timestamps)))
	}
}

func (s *Series) dropFirst() {
	copy(s.Prices, s.Prices[1:])
	s.Prices = s.Prices[:len(s.Prices)-1]
	copy(s.Highs, s.Highs[1:])
	s.Highs = s.Highs[:len(s.Highs)-1]
	copy(s.Lows, s.Lows[1:])
	s.Lows = s.Lows[:len(s.Lows)-1]
	copy(s.Volumes, s.Volumes[1:])
	s.Volumes = s.Volumes[:len(s.Volumes)-1]
	copy(s.Timestamps, s.Timestamps[1:])
	s.Timestamps = s.Timestamps[:len(s.Timestamps)-1]
}
