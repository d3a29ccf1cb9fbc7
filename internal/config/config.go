package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the live signals service
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Poller    PollerConfig
	Cache     CacheConfig
	Providers ProvidersConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Symbols   SymbolsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string `validate:"required,numeric"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

// PollerConfig controls the poll cycle
type PollerConfig struct {
	Enabled       bool
	BatchSize     int           `validate:"min=1,max=200"`
	BatchInterval time.Duration `validate:"min=0"`
	PollInterval  time.Duration `validate:"min=100ms"`
	HistoryLimit  int           `validate:"min=10,max=10000"`
	Timeframes    []string      `validate:"min=1,dive,required"`
	SeedInterval  string
	SeedEnabled   bool
}

// CacheConfig holds TTLs and the cache backend
type CacheConfig struct {
	Backend       string        `validate:"oneof=memory redis"`
	QuoteTTL      time.Duration `validate:"min=1ms"`
	HeavyTTL      time.Duration `validate:"min=1ms"`
	SweepInterval time.Duration
	KeyPrefix     string
}

// ProviderCredentials identifies an account at an upstream provider
type ProviderCredentials struct {
	APIKey      string
	AccessToken string
	BaseURL     string
}

// ProvidersConfig holds adapter settings and class routing
type ProvidersConfig struct {
	Timeout       time.Duration `validate:"min=1s,max=30s"`
	RetryAttempts int           `validate:"min=1,max=10"`
	RetryDelay    time.Duration
	// Routes maps an asset class to the adapter serving it
	Routes       map[string]string `validate:"dive,keys,oneof=stock index crypto,endkeys,required"`
	Finnhub      ProviderCredentials
	TwelveData   ProviderCredentials
	AlphaVantage ProviderCredentials
	NSE          ProviderCredentials
	Binance      ProviderCredentials
	Kite         ProviderCredentials
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Addr     string `validate:"required_if=Enabled true"`
	Password string
	DB       int
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Enabled         bool
	URL             string `validate:"required_if=Enabled true"`
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig holds the signal topic settings
type KafkaConfig struct {
	Enabled  bool
	Brokers  []string `validate:"required_if=Enabled true"`
	Topic    string   `validate:"required_if=Enabled true"`
	ClientID string
}

// RateLimitConfig holds caller rate limiting configuration
type RateLimitConfig struct {
	Enabled            bool
	Backend            string `validate:"oneof=memory redis"`
	RequestsPerMinute  int    `validate:"min=1"`
	BurstSize          int    `validate:"min=1"`
	ClientIPHeaderName string
}

// AuthConfig holds the service token secret for the symbol management routes
type AuthConfig struct {
	ServiceSecret string
	Issuer        string
}

// SymbolsConfig points at the initial symbol universe
type SymbolsConfig struct {
	File string
}

// LoadConfig loads configuration from path, a .env file if present and the environment
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// PROVIDERS_FINNHUB_APIKEY overrides providers.finnhub.apiKey
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Cache.Backend == "redis" && !cfg.Redis.Enabled {
		return errors.New("invalid config: cache backend redis requires redis.enabled")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return errors.New("invalid config: kafka.enabled requires at least one broker")
	}
	if cfg.RateLimit.Backend == "redis" && !cfg.Redis.Enabled {
		return errors.New("invalid config: rate limit backend redis requires redis.enabled")
	}
	return nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", "10s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.idleTimeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Poller defaults
	v.SetDefault("poller.enabled", true)
	v.SetDefault("poller.batchSize", 20)
	v.SetDefault("poller.batchInterval", "1s")
	v.SetDefault("poller.pollInterval", "2s")
	v.SetDefault("poller.historyLimit", 100)
	v.SetDefault("poller.timeframes", []string{"5m", "15m", "30m", "1h", "2h", "4h", "1d"})
	v.SetDefault("poller.seedInterval", "1m")
	v.SetDefault("poller.seedEnabled", true)

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.quoteTTL", "5s")
	v.SetDefault("cache.heavyTTL", "30s")
	v.SetDefault("cache.sweepInterval", "1m")
	v.SetDefault("cache.keyPrefix", "live-signals")

	// Provider defaults
	v.SetDefault("providers.timeout", "10s")
	v.SetDefault("providers.retryAttempts", 3)
	v.SetDefault("providers.retryDelay", "500ms")
	v.SetDefault("providers.routes", map[string]string{
		"stock":  "nse",
		"index":  "nse",
		"crypto": "binance",
	})
	for _, name := range []string{"finnhub", "twelveData", "alphaVantage", "nse", "binance", "kite"} {
		v.SetDefault("providers."+name+".apiKey", "")
		v.SetDefault("providers."+name+".accessToken", "")
		v.SetDefault("providers."+name+".baseURL", "")
	}

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", "5m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "live-signals")
	v.SetDefault("kafka.clientID", "live-signals")

	// Rate limit defaults
	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.backend", "memory")
	v.SetDefault("rateLimit.requestsPerMinute", 60)
	v.SetDefault("rateLimit.burstSize", 10)
	v.SetDefault("rateLimit.clientIPHeaderName", "X-Real-IP")

	// Auth defaults
	v.SetDefault("auth.serviceSecret", "")
	v.SetDefault("auth.issuer", "live-signals")

	// Symbols defaults
	v.SetDefault("symbols.file", "config/symbols.yaml")
}
