package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Limiter decides whether a client may make another request
type Limiter interface {
	Allow(ctx context.Context, client string) (bool, error)
}

// TokenBucketLimiter is an in-process token bucket per client
type TokenBucketLimiter struct {
	tokensPerSec float64
	maxTokens    float64
	now          func() time.Time

	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucketLimiter creates a per-client token bucket limiter
func NewTokenBucketLimiter(requestsPerMinute, burstSize int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		tokensPerSec: float64(requestsPerMinute) / 60.0,
		maxTokens:    float64(burstSize),
		now:          time.Now,
		buckets:      make(map[string]*tokenBucket),
	}
}

// Allow takes one token from the client's bucket
func (l *TokenBucketLimiter) Allow(_ context.Context, client string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[client]
	if !ok {
		b = &tokenBucket{tokens: l.maxTokens, lastRefill: now}
		l.buckets[client] = b
	}

	b.tokens += now.Sub(b.lastRefill).Seconds() * l.tokensPerSec
	b.lastRefill = now
	if b.tokens > l.maxTokens {
		b.tokens = l.maxTokens
	}

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, nil
	}
	return false, nil
}

// RedisWindowLimiter counts requests per client in fixed one-minute windows
// shared by every replica
type RedisWindowLimiter struct {
	client *redis.Client
	limit  int64
	now    func() time.Time
}

// NewRedisWindowLimiter creates a per-client fixed one-minute window limiter
func NewRedisWindowLimiter(client *redis.Client, requestsPerMinute int) *RedisWindowLimiter {
	return &RedisWindowLimiter{client: client, limit: int64(requestsPerMinute), now: time.Now}
}

// Allow counts the request in the client's current minute
func (l *RedisWindowLimiter) Allow(ctx context.Context, client string) (bool, error) {
	key := fmt.Sprintf("rl:%s:%d", client, l.now().Unix()/60)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, time.Minute).Err(); err != nil {
			return false, err
		}
	}
	return count <= l.limit, nil
}

// RateLimit rejects callers over their limit with 429. The client is keyed by
// headerName when set and present, otherwise by IP. Limiter errors let the
// request through.
func RateLimit(limiter Limiter, headerName string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := c.ClientIP()
		if headerName != "" {
			if v := c.GetHeader(headerName); v != "" {
				client = v
			}
		}

		allowed, err := limiter.Allow(c.Request.Context(), client)
		if err != nil {
			logger.Error("Rate limit check failed", zap.Error(err), zap.String("client_ip", client))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(60))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded. Try again later.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
