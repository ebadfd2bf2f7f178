package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: now,
	}
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

func (b *tokenBucket) take(now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return Decision{Allowed: true, Remaining: int(b.tokens)}
	}

	wait := time.Second
	if b.refillRate > 0 {
		wait = time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
	}
	return Decision{RetryAfter: wait}
}

// bucketIdleTTL is the minimum time a bucket must sit unused before it is
// dropped.
const bucketIdleTTL = time.Minute

// MemoryLimiter keeps one token bucket per key in process memory. Buckets
// idle long enough to have refilled completely are swept when new keys
// arrive.
type MemoryLimiter struct {
	cfg       RateLimitConfig
	mu        sync.RWMutex
	buckets   map[string]*tokenBucket
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	m := &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
	// A bucket that never refills must stay, or eviction would reset it.
	if cfg.RequestsPerSecond > 0 {
		m.idle = bucketIdleTTL
		if full := time.Duration(float64(cfg.BurstSize) / cfg.RequestsPerSecond * float64(time.Second)); full > m.idle {
			m.idle = full
		}
	}
	return m
}

func (m *MemoryLimiter) bucket(key string, now time.Time) *tokenBucket {
	m.mu.RLock()
	b, ok := m.buckets[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[key]; ok {
		return b
	}
	m.sweep(now)
	b = newTokenBucket(m.cfg.RequestsPerSecond, m.cfg.BurstSize, now)
	m.buckets[key] = b
	return b
}

// sweep drops idle buckets at most once per idle period. Callers hold m.mu.
func (m *MemoryLimiter) sweep(now time.Time) {
	if m.idle == 0 || now.Sub(m.lastSweep) < m.idle {
		return
	}
	m.lastSweep = now
	for key, b := range m.buckets {
		if b.idleSince(now) >= m.idle {
			delete(m.buckets, key)
		}
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	return m.bucket(key, now).take(now), nil
}

// RedisLimiter is a fixed one-second window shared by every replica. The
// window admits BurstSize requests.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, cfg RateLimitConfig) *RedisLimiter {
	limit := int64(cfg.BurstSize)
	if limit <= 0 {
		limit = int64(cfg.RequestsPerSecond)
	}
	return &RedisLimiter{client: client, limit: limit, prefix: "records:ratelimit:", now: time.Now}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	window := now.Unix()
	k := l.prefix + key + ":" + strconv.FormatInt(window, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis rate limit: %w", err)
	}

	count := incr.Val()
	if count > l.limit {
		next := time.Unix(window+1, 0)
		return Decision{RetryAfter: next.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: int(l.limit - count)}, nil
}

// RateLimit throttles per client IP. A limiter error lets the request through
// so a Redis outage does not take the API down with it.
func RateLimit(limiter Limiter, cfg RateLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d, err := limiter.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				logger.Warn().Err(err).Str("remote_ip", c.RealIP()).Msg("rate limiter unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
