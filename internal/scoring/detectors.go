package scoring

import (
	"math"

	"github.com/yourorg/live-signals/internal/model"
)

// FairValueGap reports a gap wider than 0.5% between the high three bars
// back and the latest low
func FairValueGap(highs, lows []float64) bool {
	if len(highs) < 3 || len(lows) < 3 {
		return false
	}
	i := len(highs) - 3
	prevHigh, nextLow := highs[i], lows[i+2]
	if prevHigh == 0 || !finite(prevHigh, nextLow) {
		return false
	}
	return math.Abs(nextLow-prevHigh)/math.Abs(prevHigh) > 0.005
}

// OrderBlock compares the latest price to the mean of the last five
func OrderBlock(prices []float64) model.Bias {
	if len(prices) < 5 {
		return model.BiasNone
	}
	avg := mean(prices[len(prices)-5:])
	recent := prices[len(prices)-1]
	switch {
	case !finite(avg, recent):
		return model.BiasNone
	case recent > avg*1.01:
		return model.BiasBullish
	case recent < avg*0.99:
		return model.BiasBearish
	}
	return model.BiasNone
}

// VolumeSurge reports the latest volume above 1.5x the mean of the last ten
func VolumeSurge(volumes []float64) bool {
	if len(volumes) < 10 {
		return false
	}
	last10 := volumes[len(volumes)-10:]
	avg := mean(last10)
	latest := last10[9]
	return finite(avg, latest) && latest > avg*1.5
}

// LiquiditySweep checks whether current pierces the extremes of the five
// bars before the latest one without clearing the penultimate bar
func LiquiditySweep(highs, lows []float64, current float64) model.Bias {
	if len(highs) < 5 || len(lows) < 5 {
		return model.BiasNone
	}
	recentHigh := maxOf(window(highs, 6, 1))
	recentLow := minOf(window(lows, 6, 1))
	penHigh := highs[len(highs)-2]
	penLow := lows[len(lows)-2]
	switch {
	case !finite(current, recentHigh, recentLow):
		return model.BiasNone
	case current > recentHigh*1.001 && current < penHigh:
		return model.BiasBearish
	case current < recentLow*0.999 && current > penLow:
		return model.BiasBullish
	}
	return model.BiasNone
}

// MitigationBlock compares the latest price to the range of bars -6..-3
func MitigationBlock(prices []float64) model.Bias {
	if len(prices) < 6 {
		return model.BiasNone
	}
	w := window(prices, 6, 2)
	prevLow, prevHigh := minOf(w), maxOf(w)
	last := prices[len(prices)-1]
	switch {
	case !finite(last, prevLow, prevHigh):
		return model.BiasNone
	case last > prevLow*1.02 && last < prevHigh:
		return model.BiasBullish
	case last < prevHigh*0.98 && last > prevLow:
		return model.BiasBearish
	}
	return model.BiasNone
}

// BreakerBlock compares the range of the last five prices to the five before
func BreakerBlock(prices []float64) model.Bias {
	if len(prices) < 10 {
		return model.BiasNone
	}
	prev := window(prices, 10, 5)
	last := prices[len(prices)-5:]
	prevHigh, prevLow := maxOf(prev), minOf(prev)
	currHigh, currLow := maxOf(last), minOf(last)
	switch {
	case !finite(prevHigh, prevLow, currHigh, currLow):
		return model.BiasNone
	case currHigh > prevHigh && currLow > prevLow:
		return model.BiasBullish
	case currLow < prevLow && currHigh < prevHigh:
		return model.BiasBearish
	}
	return model.BiasNone
}

// BreakOfStructure compares the latest bar to the one two bars earlier with
// a 0.2% margin. A higher high wins over a lower low.
func BreakOfStructure(highs, lows []float64) model.Bias {
	if len(highs) < 6 || len(lows) < 6 {
		return model.BiasNone
	}
	prevHigh, currHigh := highs[len(highs)-3], highs[len(highs)-1]
	prevLow, currLow := lows[len(lows)-3], lows[len(lows)-1]
	switch {
	case !finite(prevHigh, currHigh, prevLow, currLow):
		return model.BiasNone
	case currHigh > prevHigh*1.002:
		return model.BiasBullish
	case currLow < prevLow*0.998:
		return model.BiasBearish
	}
	return model.BiasNone
}

// ChangeOfCharacter requires exactly one side to break by 0.1%
func ChangeOfCharacter(highs, lows []float64) model.Bias {
	if len(highs) < 8 || len(lows) < 8 {
		return model.BiasNone
	}
	lastHigh, priorHigh := highs[len(highs)-1], highs[len(highs)-3]
	lastLow, priorLow := lows[len(lows)-1], lows[len(lows)-3]
	if !finite(lastHigh, priorHigh, lastLow, priorLow) {
		return model.BiasNone
	}
	brokeHigh := lastHigh > priorHigh*1.001
	brokeLow := lastLow < priorLow*0.999
	switch {
	case brokeHigh && !brokeLow:
		return model.BiasBullish
	case brokeLow && !brokeHigh:
		return model.BiasBearish
	}
	return model.BiasNone
}

// window returns data[len-from : len-to], clamping the start at 0
func window(data []float64, from, to int) []float64 {
	start := len(data) - from
	if start < 0 {
		start = 0
	}
	return data[start : len(data)-to]
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
