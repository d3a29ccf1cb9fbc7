package config

import (
	"fmt"
	"os"

	"github.com/yourorg/live-signals/internal/model"

	"gopkg.in/yaml.v3"
)

type symbolsFile struct {
	Symbols []struct {
		Symbol string `yaml:"symbol"`
		Type   string `yaml:"type"`
	} `yaml:"symbols"`
}

// LoadSymbols reads the initial symbol universe. Duplicates are dropped,
// keeping the first occurrence.
func LoadSymbols(filename string) ([]model.SymbolSpec, error) {
	input, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: can't read symbols file", err)
	}
	return ParseSymbols(input)
}

// ParseSymbols decodes a YAML symbol list
func ParseSymbols(input []byte) ([]model.SymbolSpec, error) {
	var f symbolsFile
	if err := yaml.Unmarshal(input, &f); err != nil {
		return nil, fmt.Errorf("%w: can't unmarshal symbols", err)
	}

	seen := make(map[string]bool, len(f.Symbols))
	specs := make([]model.SymbolSpec, 0, len(f.Symbols))
	for i, s := range f.Symbols {
		if s.Symbol == "" {
			return nil, fmt.Errorf("symbols[%d]: empty symbol", i)
		}
		class, err := model.ParseAssetClass(s.Type)
		if err != nil {
			return nil, fmt.Errorf("symbols[%d] %s: %w", i, s.Symbol, err)
		}
		spec := model.SymbolSpec{Symbol: s.Symbol, Class: class}
		if seen[spec.Key()] {
			continue
		}
		seen[spec.Key()] = true
		specs = append(specs, spec)
	}
	return specs, nil
}
