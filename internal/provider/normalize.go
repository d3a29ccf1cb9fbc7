package provider

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// payload is a decoded provider response. Providers disagree on field names,
// so values are looked up by alias path rather than bound to structs.
type payload map[string]any

// lookup walks a dotted path such as "priceInfo.intraDayHighLow.max" or
// "data.0.last" through nested objects and arrays. Object keys that contain
// dots themselves ("05. price") are matched greedily.
func (p payload) lookup(path string) (any, bool) {
	v, ok := walk(map[string]any(p), strings.Split(path, "."))
	return v, ok && v != nil
}

func walk(cur any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return cur, true
	}
	switch node := cur.(type) {
	case map[string]any:
		for j := len(parts); j > 0; j-- {
			if v, ok := node[strings.Join(parts[:j], ".")]; ok {
				if found, ok := walk(v, parts[j:]); ok {
					return found, true
				}
			}
		}
	case []any:
		i, err := strconv.Atoi(parts[0])
		if err == nil && i >= 0 && i < len(node) {
			return walk(node[i], parts[1:])
		}
	}
	return nil, false
}

// number resolves the first alias holding a finite number or numeric string
func (p payload) number(aliases ...string) (float64, bool) {
	for _, alias := range aliases {
		raw, ok := p.lookup(alias)
		if !ok {
			continue
		}
		if f, ok := toFloat(raw); ok {
			return f, true
		}
	}
	return 0, false
}

// optional is number returning nil when no alias resolves
func (p payload) optional(aliases ...string) *float64 {
	f, ok := p.number(aliases...)
	if !ok {
		return nil
	}
	return &f
}

// str resolves the first alias holding a non-empty string
func (p payload) str(aliases ...string) string {
	for _, alias := range aliases {
		raw, ok := p.lookup(alias)
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
