package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yourorg/live-signals/internal/cache"
	"github.com/yourorg/live-signals/internal/config"
	"github.com/yourorg/live-signals/internal/handler"
	"github.com/yourorg/live-signals/internal/history"
	"github.com/yourorg/live-signals/internal/kafka"
	"github.com/yourorg/live-signals/internal/metrics"
	"github.com/yourorg/live-signals/internal/middleware"
	"github.com/yourorg/live-signals/internal/model"
	"github.com/yourorg/live-signals/internal/provider"
	"github.com/yourorg/live-signals/internal/repository"
	"github.com/yourorg/live-signals/internal/scheduler"
	"github.com/yourorg/live-signals/internal/scoring"
	"github.com/yourorg/live-signals/internal/sink"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Connect to Redis if enabled
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis is not reachable, continuing", zap.Error(err))
		}
		cancel()
		defer redisClient.Close()
	}

	// Quote cache
	var cacheOpts []cache.Option[model.Tick]
	if cfg.Cache.Backend == "redis" {
		cacheOpts = append(cacheOpts, cache.WithStore[model.Tick](cache.NewRedisStore[model.Tick](redisClient, cfg.Cache.KeyPrefix+":quote")))
	}
	quotes := cache.New[model.Tick](cfg.Cache.QuoteTTL, logger.Named("cache"), cacheOpts...)
	go quotes.Run(ctx, cfg.Cache.SweepInterval)
	m.RegisterCache("quotes", quotes.Stats)

	// Providers
	router := provider.NewRouter(routesFrom(cfg.Providers.Routes), logger.Named("provider"), buildAdapters(cfg.Providers, logger)...)
	for class, name := range cfg.Providers.Routes {
		if _, err := router.Resolve(model.SymbolSpec{Class: model.AssetClass(class)}, name); err != nil {
			logger.Warn("Route names an unregistered provider", zap.String("class", class), zap.String("provider", name))
		}
	}

	// Sinks
	var sinks sink.Multi
	var store handler.SignalStore
	if cfg.Database.Enabled {
		db, err := connectToDB(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		repo := repository.NewSignalRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure schema", zap.Error(err))
		}
		sinks = append(sinks, sink.NewPostgres(repo))
		store = repo
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID, logger.Named("kafka"))
		defer producer.Close()
		sinks = append(sinks, sink.NewKafka(producer, cfg.Kafka.Topic))
	}

	// Poller
	engine := scoring.NewEngine(cfg.Poller.Timeframes...)
	deps := scheduler.Deps{
		Fetcher: router,
		Cache:   quotes,
		History: history.NewBuffer(cfg.Poller.HistoryLimit),
		Engine:  engine,
		Metrics: m,
	}
	if len(sinks) > 0 {
		deps.Sink = sinks
	}
	if cfg.Poller.SeedEnabled {
		deps.Seeder = provider.NewBinance(providerOptions(cfg.Providers, cfg.Providers.Binance), logger.Named("seeder"))
	}
	poller := scheduler.NewPoller(scheduler.Config{
		BatchSize:     cfg.Poller.BatchSize,
		BatchInterval: cfg.Poller.BatchInterval,
		PollInterval:  cfg.Poller.PollInterval,
		QuoteTTL:      cfg.Cache.QuoteTTL,
		SeedInterval:  cfg.Poller.SeedInterval,
	}, deps, logger.Named("poller"))

	specs, err := config.LoadSymbols(cfg.Symbols.File)
	if err != nil {
		logger.Warn("Starting with an empty symbol universe", zap.Error(err))
	}
	for _, spec := range specs {
		poller.Add(spec)
	}
	logger.Info("Symbol universe loaded", zap.Int("symbols", len(poller.Symbols())))

	if cfg.Poller.Enabled {
		go func() {
			if err := poller.Run(ctx); err != nil {
				logger.Error("Poller stopped", zap.Error(err))
			}
		}()
	}

	// Initialize handlers
	quoteHandler := handler.NewQuoteHandler(router, quotes, cfg.Cache.HeavyTTL, logger)
	signalHandler := handler.NewSignalHandler(poller, engine, store, logger)
	symbolsHandler := handler.NewSymbolsHandler(poller, logger)

	// Set up HTTP server with Gin
	httpRouter := setupRouter(quoteHandler, signalHandler, symbolsHandler, redisClient, poller, m, logger, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

func createLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch cfg.Level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	encoding := "json"
	encoderConfig := zap.NewProductionEncoderConfig()
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dbConfig.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

func routesFrom(routes map[string]string) map[model.AssetClass]string {
	out := make(map[model.AssetClass]string, len(routes))
	for class, name := range routes {
		out[model.AssetClass(class)] = name
	}
	return out
}

func providerOptions(cfg config.ProvidersConfig, creds config.ProviderCredentials) provider.Options {
	return provider.Options{
		BaseURL: creds.BaseURL,
		Timeout: cfg.Timeout,
		Retry: provider.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
		},
	}
}

// buildAdapters registers the keyless adapters and every keyed one with credentials
func buildAdapters(cfg config.ProvidersConfig, logger *zap.Logger) []provider.Adapter {
	logger = logger.Named("provider")
	adapters := []provider.Adapter{
		provider.NewNSE(providerOptions(cfg, cfg.NSE), logger),
		provider.NewBinance(providerOptions(cfg, cfg.Binance), logger),
	}
	if cfg.Finnhub.APIKey != "" {
		adapters = append(adapters, provider.NewFinnhub(cfg.Finnhub.APIKey, providerOptions(cfg, cfg.Finnhub), logger))
	}
	if cfg.TwelveData.APIKey != "" {
		adapters = append(adapters, provider.NewTwelveData(cfg.TwelveData.APIKey, providerOptions(cfg, cfg.TwelveData), logger))
	}
	if cfg.AlphaVantage.APIKey != "" {
		adapters = append(adapters, provider.NewAlphaVantage(cfg.AlphaVantage.APIKey, providerOptions(cfg, cfg.AlphaVantage), logger))
	}
	if cfg.Kite.APIKey != "" && cfg.Kite.AccessToken != "" {
		adapters = append(adapters, provider.NewKite(cfg.Kite.APIKey, cfg.Kite.AccessToken, providerOptions(cfg, cfg.Kite), logger))
	}
	return adapters
}

func setupRouter(
	quoteHandler *handler.QuoteHandler,
	signalHandler *handler.SignalHandler,
	symbolsHandler *handler.SymbolsHandler,
	redisClient *redis.Client,
	poller *scheduler.Poller,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg *config.Config,
) *gin.Engine {
	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger, m))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"

		// Check Redis connectivity if available
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
			defer cancel()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = "degraded"
				logger.Warn("Redis health check failed", zap.Error(err))
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"symbols": len(poller.Symbols()),
			"redis":   redisClient != nil,
		})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// API routes
	v1 := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		var limiter middleware.Limiter = middleware.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
		if cfg.RateLimit.Backend == "redis" {
			limiter = middleware.NewRedisWindowLimiter(redisClient, cfg.RateLimit.RequestsPerMinute)
		}
		v1.Use(middleware.RateLimit(limiter, cfg.RateLimit.ClientIPHeaderName, logger))
	}
	{
		quotes := v1.Group("/quotes")
		{
			quotes.GET("", quoteHandler.GetQuote)
			quotes.GET("/providers", quoteHandler.ListProviders)
		}

		signals := v1.Group("/signals")
		{
			signals.POST("/score", signalHandler.Score)
			signals.GET("/:symbol", signalHandler.GetSignal)
			signals.GET("/:symbol/history", signalHandler.GetSignalHistory)
		}

		symbols := v1.Group("/symbols")
		{
			symbols.GET("", symbolsHandler.ListSymbols)

			// Protected symbols management
			symbolsAuth := symbols.Group("")
			symbolsAuth.Use(middleware.ServiceAuth(cfg.Auth.ServiceSecret, cfg.Auth.Issuer, logger))
			symbolsAuth.POST("", symbolsHandler.AddSymbol)
			symbolsAuth.DELETE("/:symbol", symbolsHandler.RemoveSymbol)
		}
	}
	return router
}
