package scoring

// SMA returns the mean of the last n values. A series shorter than n yields
// its last element; an empty one yields nothing.
func SMA(data []float64, n int) (float64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	if n <= 0 || len(data) < n {
		return data[len(data)-1], true
	}
	return mean(data[len(data)-n:]), true
}

// EMA returns the exponential moving average with smoothing 2/(n+1), seeded
// with the first value and smoothed over the whole series. Short series
// behave as in SMA.
func EMA(data []float64, n int) (float64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	if n <= 0 || len(data) < n {
		return data[len(data)-1], true
	}
	k := 2 / float64(n+1)
	ema := data[0]
	for _, v := range data[1:] {
		ema = v*k + ema*(1-k)
	}
	return ema, true
}

// RSI averages gains and losses over the last n differences. A window
// without losses is 100.
func RSI(data []float64, n int) (float64, bool) {
	if n <= 0 || len(data) < n+1 {
		return 0, false
	}
	var gains, losses float64
	for i := len(data) - n; i < len(data); i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	avgGain := gains / float64(n)
	avgLoss := losses / float64(n)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func mean(data []float64) float64 {
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func maxOf(data []float64) float64 {
	m := data[0]
	for _, v := range data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(data []float64) float64 {
	m := data[0]
	for _, v := range data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
