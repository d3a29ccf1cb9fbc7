package history

import "time"

// Series holds parallel, oldest-first sample slices of equal length
type Series struct {
	Prices     []float64 `json:"prices"`
	Highs      []float64 `json:"highs"`
	Lows       []float64 `json:"lows"`
	Volumes    []float64 `json:"volumes"`
	Timestamps []int64   `json:"timestamps"`
}

// Len returns the number of samples
func (s Series) Len() int {
	return len(s.Prices)
}

// Last returns the most recent price
func (s Series) Last() (float64, bool) {
	if len(s.Prices) == 0 {
		return 0, false
	}
	return s.Prices[len(s.Prices)-1], true
}

func (s Series) aligned() bool {
	n := len(s.Prices)
	return len(s.Highs) == n && len(s.Lows) == n && len(s.Volumes) == n && len(s.Timestamps) == n
}

// Clone deep copies s
func (s Series) Clone() Series {
	return Series{
		Prices:     append([]float64(nil), s.Prices...),
		Highs:      append([]float64(nil), s.Highs...),
		Lows:       append([]float64(nil), s.Lows...),
		Volumes:    append([]float64(nil), s.Volumes...),
		Timestamps: append([]int64(nil), s.Timestamps...),
	}
}

// Resample folds samples into consecutive bars of width d aligned to the
// epoch. Each bar closes at its last price, spans the max high and min low,
// and sums volume. A series without timestamps, or d <= 0, is returned as is.
func (s Series) Resample(d time.Duration) Series {
	width := d.Milliseconds()
	if width <= 0 || len(s.Prices) == 0 || !s.aligned() {
		return s.Clone()
	}

	out := Series{}
	bucket := int64(-1)
	for i := range s.Prices {
		b := floorDiv(s.Timestamps[i], width)
		if b != bucket || len(out.Prices) == 0 {
			bucket = b
			out.Prices = append(out.Prices, s.Prices[i])
			out.Highs = append(out.Highs, s.Highs[i])
			out.Lows = append(out.Lows, s.Lows[i])
			out.Volumes = append(out.Volumes, s.Volumes[i])
			out.Timestamps = append(out.Timestamps, s.Timestamps[i])
			continue
		}
		last := len(out.Prices) - 1
		out.Prices[last] = s.Prices[i]
		if s.Highs[i] > out.Highs[last] {
			out.Highs[last] = s.Highs[i]
		}
		if s.Lows[i] < out.Lows[last] {
			out.Lows[last] = s.Lows[i]
		}
		out.Volumes[last] += s.Volumes[i]
		out.Timestamps[last] = s.Timestamps[i]
	}
	return out
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && (a < 0) {
		q--
	}
	return q
}
