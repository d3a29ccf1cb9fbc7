package model

// Signal is the directional call produced by the scoring engine
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Bias is the outcome of a single pattern detector
type Bias string

const (
	BiasNone    Bias = ""
	BiasBullish Bias = "BULLISH"
	BiasBearish Bias = "BEARISH"
)

// Indicators holds the values that fed a score
type Indicators struct {
	SMA20          *float64 `json:"sma20"`
	EMA50          *float64 `json:"ema50"`
	RSI            *float64 `json:"rsi"`
	ChangePercent  float64  `json:"changePercent"`
	HasFVG         bool     `json:"hasFVG"`
	OrderBlock     Bias     `json:"orderBlock,omitempty"`
	VolumeSurge    bool     `json:"volumeSurge"`
	LiquiditySweep Bias     `json:"liquiditySweep,omitempty"`
	BOS            Bias     `json:"bos,omitempty"`
	CHoCH          Bias     `json:"choch,omitempty"`
	Mitigation     Bias     `json:"mitigation,omitempty"`
	Breaker        Bias     `json:"breaker,omitempty"`
}

// ScoreResult is the immutable outcome of scoring a symbol
type ScoreResult struct {
	Symbol        string     `json:"symbol"`
	Signal        Signal     `json:"signal"`
	Confidence    int        `json:"confidence"`
	BestTimeframe string     `json:"bestTimeframe"`
	Indicators    Indicators `json:"indicators"`
	Reasons       []string   `json:"reasons"`
	StopLoss      float64    `json:"stoploss"`
	Targets       []float64  `json:"targets"`
	EntryPrice    float64    `json:"entryPrice"`
}
