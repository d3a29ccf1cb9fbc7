package model

import (
	"fmt"
	"strings"
)

// AssetClass routes a symbol to the provider that serves it
type AssetClass string

const (
	ClassStock  AssetClass = "stock"
	ClassIndex  AssetClass = "index"
	ClassCrypto AssetClass = "crypto"
)

// ParseAssetClass converts a user supplied class name into an AssetClass
func ParseAssetClass(s string) (AssetClass, error) {
	switch AssetClass(strings.ToLower(strings.TrimSpace(s))) {
	case ClassStock, "equity":
		return ClassStock, nil
	case ClassIndex:
		return ClassIndex, nil
	case ClassCrypto:
		return ClassCrypto, nil
	default:
		return "", fmt.Errorf("unknown asset class %q", s)
	}
}

// SymbolSpec identifies an instrument and the class used to route it
type SymbolSpec struct {
	Symbol string     `json:"symbol" yaml:"symbol" binding:"required"`
	Class  AssetClass `json:"type" yaml:"type" binding:"required,oneof=stock index crypto"`
}

// Key returns the cache key for the spec
func (s SymbolSpec) Key() string {
	return string(s.Class) + ":" + s.Symbol
}

// Tick is a normalized quote. Price is 0 when no provider alias resolved;
// the optional fields stay nil rather than being coerced to zero.
type Tick struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	Open          *float64 `json:"open"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	PreviousClose *float64 `json:"previousClose"`
	Volume        *float64 `json:"volume"`
	Timestamp     int64    `json:"timestamp"`
	Source        string   `json:"source,omitempty"`
}

// HasPrice reports whether the tick carries a usable price
func (t Tick) HasPrice() bool {
	return t.Price > 0
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// ValueOr dereferences p, returning def when p is nil
func ValueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
