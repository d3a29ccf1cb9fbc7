package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/yourorg/live-signals/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Universe is the mutable set of polled symbols
type Universe interface {
	Symbols() []model.SymbolSpec
	Add(spec model.SymbolSpec) bool
	Remove(ctx context.Context, symbol string) bool
}

// AddSymbolRequest represents a request to start polling a symbol
type AddSymbolRequest struct {
	Symbol string `json:"symbol" binding:"required,max=32"`
	Type   string `json:"type" binding:"required"`
}

// SymbolsHandler manages the polled universe
type SymbolsHandler struct {
	universe Universe
	logger   *zap.Logger
}

// NewSymbolsHandler creates a new symbols handler
func NewSymbolsHandler(universe Universe, logger *zap.Logger) *SymbolsHandler {
	return &SymbolsHandler{
		universe: universe,
		logger:   logger,
	}
}

// ListSymbols handles listing the polled universe
// GET /api/v1/symbols
func (h *SymbolsHandler) ListSymbols(c *gin.Context) {
	specs := h.universe.Symbols()
	c.JSON(http.StatusOK, gin.H{
		"symbols": specs,
		"count":   len(specs),
	})
}

// AddSymbol handles adding a symbol to the universe
// POST /api/v1/symbols
func (h *SymbolsHandler) AddSymbol(c *gin.Context) {
	var req AddSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	class, err := model.ParseAssetClass(req.Type)
	if err != nil {
		SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	spec := model.SymbolSpec{Symbol: strings.TrimSpace(req.Symbol), Class: class}
	if spec.Symbol == "" {
		SendErrorResponse(c, http.StatusBadRequest, "Missing symbol")
		return
	}
	if !h.universe.Add(spec) {
		SendErrorResponse(c, http.StatusConflict, "Symbol already polled")
		return
	}

	h.logger.Info("Symbol added",
		zap.String("symbol", spec.Symbol),
		zap.String("class", string(spec.Class)),
		zap.String("by", c.GetString("serviceSubject")))
	c.JSON(http.StatusCreated, spec)
}

// RemoveSymbol handles dropping a symbol from the universe
// DELETE /api/v1/symbols/:symbol
func (h *SymbolsHandler) RemoveSymbol(c *gin.Context) {
	symbol := c.Param("symbol")
	if !h.universe.Remove(c.Request.Context(), symbol) {
		SendErrorResponse(c, http.StatusNotFound, "Symbol not polled")
		return
	}

	h.logger.Info("Symbol removed",
		zap.String("symbol", symbol),
		zap.String("by", c.GetString("serviceSubject")))
	c.Status(http.StatusNoContent)
}
