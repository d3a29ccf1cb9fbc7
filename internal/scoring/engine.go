// Package scoring turns a price history into a BUY/SELL/HOLD call with a
// 0..100 confidence by summing fixed weights over indicators and SMC detectors.
package scoring

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/live-signals/internal/history"
	"github.com/yourorg/live-signals/internal/model"
)

const (
	neutralScore = 50
	buyAt        = 65
	sellAt       = 35

	smaPeriod = 20
	emaPeriod = 50
	rsiPeriod = 14
)

// DefaultTimeframes is the canonical evaluation order; earlier entries win ties
var DefaultTimeframes = []string{"5m", "15m", "30m", "1h", "2h", "4h", "1d"}

// TimeframeScore is the result of scoring one timeframe
type TimeframeScore struct {
	Timeframe  string
	Signal     model.Signal
	Confidence int
	Indicators model.Indicators
	Reasons    []string
}

// ResolvePrice picks the first positive of current, previousClose and the
// last price in the series, or 0
func ResolvePrice(current, previousClose *float64, s history.Series) float64 {
	if current != nil && *current > 0 {
		return *current
	}
	if previousClose != nil && *previousClose > 0 {
		return *previousClose
	}
	if last, ok := s.Last(); ok && last > 0 {
		return last
	}
	return 0
}

// ScoreTimeframe scores a single series. It is pure: equal inputs always give
// equal outputs. Without a usable price the result is a neutral HOLD.
func ScoreTimeframe(s history.Series, current, previousClose *float64) TimeframeScore {
	price := ResolvePrice(current, previousClose, s)
	if price <= 0 {
		return TimeframeScore{
			Signal:     model.SignalHold,
			Confidence: neutralScore,
			Reasons:    []string{"no price"},
		}
	}

	ind := model.Indicators{
		HasFVG:         FairValueGap(s.Highs, s.Lows),
		OrderBlock:     OrderBlock(s.Prices),
		VolumeSurge:    VolumeSurge(s.Volumes),
		LiquiditySweep: LiquiditySweep(s.Highs, s.Lows, price),
		BOS:            BreakOfStructure(s.Highs, s.Lows),
		CHoCH:          ChangeOfCharacter(s.Highs, s.Lows),
		Mitigation:     MitigationBlock(s.Prices),
		Breaker:        BreakerBlock(s.Prices),
	}
	if previousClose != nil && *previousClose != 0 {
		ind.ChangePercent = (price - *previousClose) / *previousClose * 100
	}

	score := neutralScore
	var reasons []string

	if v, ok := SMA(s.Prices, smaPeriod); ok {
		ind.SMA20 = model.Float(v)
		score += above(price, v, 8, -4)
		reasons = append(reasons, fmt.Sprintf("SMA20: %.2f", v))
	}
	if v, ok := EMA(s.Prices, emaPeriod); ok {
		ind.EMA50 = model.Float(v)
		score += above(price, v, 8, -4)
		reasons = append(reasons, fmt.Sprintf("EMA50: %.2f", v))
	}
	if v, ok := RSI(s.Prices, rsiPeriod); ok {
		ind.RSI = model.Float(v)
		switch {
		case v < 30:
			score += 6
		case v > 70:
			score -= 6
		}
		reasons = append(reasons, fmt.Sprintf("RSI: %.1f", v))
	}

	score += biasWeight(ind.BOS, 10)
	score += biasWeight(ind.CHoCH, 8)
	score += biasWeight(ind.OrderBlock, 6)
	score += biasWeight(ind.Mitigation, 5)
	score += biasWeight(ind.Breaker, 4)
	score += biasWeight(ind.LiquiditySweep, 5)
	if ind.HasFVG {
		score += 3
		reasons = append(reasons, "Fair value gap")
	}
	if ind.VolumeSurge {
		score += 5
		reasons = append(reasons, "Volume surge")
	}
	reasons = appendBias(reasons, "BOS", ind.BOS)
	reasons = appendBias(reasons, "CHoCH", ind.CHoCH)
	reasons = appendBias(reasons, "Order block", ind.OrderBlock)
	reasons = appendBias(reasons, "Mitigation block", ind.Mitigation)
	reasons = appendBias(reasons, "Breaker block", ind.Breaker)
	reasons = appendBias(reasons, "Liquidity sweep", ind.LiquiditySweep)

	score = clamp(score, 0, 100)
	return TimeframeScore{
		Signal:     signalFor(score),
		Confidence: score,
		Indicators: ind,
		Reasons:    reasons,
	}
}

// Input is everything the engine needs to score one symbol. Frames holds
// per-timeframe series; a timeframe missing from Frames is scored on Series.
type Input struct {
	Symbol        string
	Current       *float64
	PreviousClose *float64
	Series        history.Series
	Frames        map[string]history.Series
}

// Engine scores symbols across an ordered list of timeframes
type Engine struct {
	timeframes []string
}

// NewEngine creates an engine over timeframes, or DefaultTimeframes when none are given
func NewEngine(timeframes ...string) *Engine {
	if len(timeframes) == 0 {
		timeframes = DefaultTimeframes
	}
	return &Engine{timeframes: append([]string(nil), timeframes...)}
}

// Timeframes returns the evaluation order
func (e *Engine) Timeframes() []string {
	return append([]string(nil), e.timeframes...)
}

// Evaluate scores every timeframe and keeps the most confident one. Only a
// strictly higher confidence replaces the current best.
func (e *Engine) Evaluate(in Input) model.ScoreResult {
	var best TimeframeScore
	for i, tf := range e.timeframes {
		series, ok := in.Frames[tf]
		if !ok {
			series = in.Series
		}
		score := ScoreTimeframe(series, in.Current, in.PreviousClose)
		score.Timeframe = tf
		if i == 0 || score.Confidence > best.Confidence {
			best = score
		}
	}

	entry := ResolvePrice(in.Current, in.PreviousClose, in.Series)
	stop, targets := Levels(best.Signal, entry)
	return model.ScoreResult{
		Symbol:        in.Symbol,
		Signal:        best.Signal,
		Confidence:    best.Confidence,
		BestTimeframe: best.Timeframe,
		Indicators:    best.Indicators,
		Reasons:       best.Reasons,
		StopLoss:      stop,
		Targets:       targets,
		EntryPrice:    entry,
	}
}

// Levels derives the stop-loss and three targets from entry
func Levels(signal model.Signal, entry float64) (float64, []float64) {
	switch signal {
	case model.SignalBuy:
		return entry * 0.9922, []float64{entry * 1.01, entry * 1.01216, entry * 1.01618}
	case model.SignalSell:
		return entry * 1.0078, []float64{entry * 0.99, entry * 0.98784, entry * 0.98382}
	default:
		return entry, []float64{entry}
	}
}

// TimeframeDuration converts labels like "15m", "4h" or "1d" to a duration
func TimeframeDuration(tf string) (time.Duration, error) {
	if strings.HasSuffix(tf, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(tf, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid timeframe %q", tf)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(tf)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	return d, nil
}

func above(price, level float64, up, down int) int {
	if price > level {
		return up
	}
	return down
}

func biasWeight(b model.Bias, w int) int {
	switch b {
	case model.BiasBullish:
		return w
	case model.BiasBearish:
		return -w
	}
	return 0
}

func appendBias(reasons []string, name string, b model.Bias) []string {
	if b == model.BiasNone {
		return reasons
	}
	return append(reasons, name+": "+string(b))
}

func signalFor(score int) model.Signal {
	switch {
	case score >= buyAt:
		return model.SignalBuy
	case score <= sellAt:
		return model.SignalSell
	}
	return model.SignalHold
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
