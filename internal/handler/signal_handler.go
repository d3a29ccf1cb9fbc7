package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/yourorg/live-signals/internal/history"
	"github.com/yourorg/live-signals/internal/model"
	"github.com/yourorg/live-signals/internal/repository"
	"github.com/yourorg/live-signals/internal/scoring"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxHistoryLimit = 1000

// SignalSource exposes the latest result per symbol
type SignalSource interface {
	Latest(symbol string) (model.ScoreResult, bool)
}

// SignalStore reads persisted signals
type SignalStore interface {
	GetLivePrice(ctx context.Context, symbol string) (*repository.LivePrice, error)
	ListTicks(ctx context.Context, symbol string, limit int) ([]repository.LivePrice, error)
}

// storedSignal is a persisted snapshot served when the poller has no result
type storedSignal struct {
	repository.LivePrice
	Indicators json.RawMessage `json:"indicators,omitempty"`
	Source     string          `json:"source"`
}

// ScoreRequest is an ad-hoc scoring request. Highs and lows default to
// prices and volumes to zero when omitted.
type ScoreRequest struct {
	Symbol        string    `json:"symbol" binding:"required"`
	Current       *float64  `json:"current"`
	PreviousClose *float64  `json:"previousClose"`
	Prices        []float64 `json:"prices" binding:"max=10000"`
	Highs         []float64 `json:"highs"`
	Lows          []float64 `json:"lows"`
	Volumes       []float64 `json:"volumes"`
	Timestamps    []int64   `json:"timestamps"`
}

// SignalHandler serves scoring results
type SignalHandler struct {
	source  SignalSource
	engine  *scoring.Engine
	store   SignalStore
	logger  *zap.Logger
}

// NewSignalHandler creates a signal handler. store may be nil when no
// database is configured.
func NewSignalHandler(source SignalSource, engine *scoring.Engine, store SignalStore, logger *zap.Logger) *SignalHandler {
	return &SignalHandler{
		source: source,
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// GetSignal handles retrieving the latest signal for a symbol. Results of
// the running poller win; otherwise the last persisted snapshot is served.
// GET /api/v1/signals/:symbol
func (h *SignalHandler) GetSignal(c *gin.Context) {
	symbol := c.Param("symbol")
	if res, ok := h.source.Latest(symbol); ok {
		c.JSON(http.StatusOK, res)
		return
	}
	if h.store == nil {
		SendErrorResponse(c, http.StatusNotFound, "No signal for symbol")
		return
	}

	lp, err := h.store.GetLivePrice(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			SendErrorResponse(c, http.StatusNotFound, "No signal for symbol")
			return
		}
		h.logger.Error("Failed to get stored signal", zap.Error(err), zap.String("symbol", symbol))
		SendErrorResponse(c, http.StatusInternalServerError, "Failed to get signal")
		return
	}
	c.JSON(http.StatusOK, storedSignal{
		LivePrice:  *lp,
		Indicators: json.RawMessage(lp.Indicators),
		Source:     "store",
	})
}

// GetSignalHistory handles listing persisted ticks for a symbol
// GET /api/v1/signals/:symbol/history?limit=
func (h *SignalHandler) GetSignalHistory(c *gin.Context) {
	if h.store == nil {
		SendErrorResponse(c, http.StatusNotImplemented, "Signal history requires a database")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			SendErrorResponse(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	symbol := c.Param("symbol")
	ticks, err := h.store.ListTicks(c.Request.Context(), symbol, limit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			SendErrorResponse(c, http.StatusNotFound, "No history for symbol")
			return
		}
		h.logger.Error("Failed to list ticks", zap.Error(err), zap.String("symbol", symbol))
		SendErrorResponse(c, http.StatusInternalServerError, "Failed to list ticks")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"ticks":  ticks,
		"count":  len(ticks),
	})
}

// Score handles scoring a caller-supplied series
// POST /api/v1/signals/score
func (h *SignalHandler) Score(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	series, err := req.series()
	if err != nil {
		SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	in := scoring.Input{
		Symbol:        req.Symbol,
		Current:       req.Current,
		PreviousClose: req.PreviousClose,
		Series:        series,
	}
	if len(req.Timestamps) > 0 {
		in.Frames = make(map[string]history.Series)
		for _, tf := range h.engine.Timeframes() {
			d, err := scoring.TimeframeDuration(tf)
			if err != nil {
				continue
			}
			in.Frames[tf] = series.Resample(d)
		}
	}

	c.JSON(http.StatusOK, h.engine.Evaluate(in))
}

func (r ScoreRequest) series() (history.Series, error) {
	n := len(r.Prices)
	fill := func(name string, v []float64, def []float64) ([]float64, error) {
		if v == nil {
			return def, nil
		}
		if len(v) != n {
			return nil, errors.New(name + " must have the same length as prices")
		}
		return v, nil
	}

	highs, err := fill("highs", r.Highs, r.Prices)
	if err != nil {
		return history.Series{}, err
	}
	lows, err := fill("lows", r.Lows, r.Prices)
	if err != nil {
		return history.Series{}, err
	}
	volumes, err := fill("volumes", r.Volumes, make([]float64, n))
	if err != nil {
		return history.Series{}, err
	}

	timestamps := r.Timestamps
	if timestamps != nil && len(timestamps) != n {
		return history.Series{}, errors.New("timestamps must have the same length as prices")
	}
	if timestamps == nil {
		timestamps = make([]int64, n)
	}

	return history.Series{
		Prices:     r.Prices,
		Highs:      highs,
		Lows:       lows,
		Volumes:    volumes,
		Timestamps: timestamps,
	}, nil
}
