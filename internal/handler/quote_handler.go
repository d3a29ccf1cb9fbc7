package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/yourorg/live-signals/internal/cache"
	"github.com/yourorg/live-signals/internal/model"
	"github.com/yourorg/live-signals/internal/provider"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// QuoteRouter is the part of provider.Router used for quotes
type QuoteRouter interface {
	Resolve(spec model.SymbolSpec, hint string) (provider.Adapter, error)
	FetchTickVia(ctx context.Context, spec model.SymbolSpec, hint string) (model.Tick, error)
	Providers() []string
}

// QuoteHandler serves cached live quotes
type QuoteHandler struct {
	router QuoteRouter
	cache  *cache.Cache[model.Tick]
	ttl    time.Duration
	logger *zap.Logger
}

// NewQuoteHandler creates a quote handler whose reads accept entries up to ttl old
func NewQuoteHandler(router QuoteRouter, quotes *cache.Cache[model.Tick], ttl time.Duration, logger *zap.Logger) *QuoteHandler {
	return &QuoteHandler{
		router: router,
		cache:  quotes,
		ttl:    ttl,
		logger: logger,
	}
}

// GetQuote handles retrieving a normalized live quote
// GET /api/v1/quotes?symbol=&type=&provider=
func (h *QuoteHandler) GetQuote(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		SendErrorResponse(c, http.StatusBadRequest, "Missing symbol")
		return
	}

	class := model.ClassStock
	if t := c.Query("type"); t != "" {
		parsed, err := model.ParseAssetClass(t)
		if err != nil {
			SendErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		class = parsed
	}
	spec := model.SymbolSpec{Symbol: symbol, Class: class}

	hint := strings.ToLower(c.Query("provider"))
	if _, err := h.router.Resolve(spec, hint); err != nil {
		SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	key := spec.Key()
	if hint != "" {
		key += "@" + hint
	}
	tick, err := h.cache.GetOrFetch(c.Request.Context(), key, h.ttl, func(ctx context.Context) (model.Tick, error) {
		return h.router.FetchTickVia(ctx, spec, hint)
	})
	if err != nil {
		kind := provider.KindOf(err)
		h.logger.Error("Failed to fetch quote",
			zap.Error(err),
			zap.String("symbol", symbol),
			zap.String("provider", hint),
			zap.String("kind", string(kind)))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch quote",
			"kind":  kind,
		})
		return
	}

	c.JSON(http.StatusOK, tick)
}

// ListProviders handles listing the registered quote providers
// GET /api/v1/quotes/providers
func (h *QuoteHandler) ListProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.router.Providers()})
}
