package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/vistoriahq/vistoria/pkg/auth"
	"github.com/vistoriahq/vistoria/pkg/httputil"
	"github.com/vistoriahq/vistoria/pkg/observability"
)

// RateLimitConfig defines a fixed window limit.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SysAdminRateLimitConfig is the default for the management endpoints. The
// integrity and audit-search endpoints hit the database, so the window is
// deliberately tight.
func SysAdminRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 30,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter is a Redis-backed fixed-window limiter, shared across
// instances.
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
	logger *observability.Logger
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string, logger *observability.Logger) *RateLimiter {
	if config == nil {
		config = SysAdminRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
		logger: logger,
	}
}

// Allow checks whether the key is under its limit. On Redis errors the
// limiter fails open so a cache outage never takes down the API.
func (rl *RateLimiter) Allow(r *http.Request, key string) (bool, error) {
	ctx := r.Context()
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	return incr.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// TTL returns the time until the window for key resets.
func (rl *RateLimiter) TTL(r *http.Request, key string) (time.Duration, error) {
	return rl.redis.TTL(r.Context(), fmt.Sprintf("%s:%s", rl.prefix, key)).Result()
}

// Handler wraps an HTTP handler with rate limiting. Authenticated requests
// are limited per actor, anonymous ones per client IP. A nil Redis client
// disables limiting entirely.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		var key string
		if actor := auth.ActorFromContext(r.Context()); actor != nil {
			key = "actor:" + actor.ID.String()
		} else {
			key = "ip:" + auth.MetaFromRequest(r).IPAddress
		}

		allowed, err := rl.Allow(r, key)
		if err != nil {
			// Fail open.
			rl.logger.WithError(err).Warn("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rl.exceeded(w, r, key)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) exceeded(w http.ResponseWriter, r *http.Request, key string) {
	retryAfter := rl.config.WindowDuration.Seconds()
	if ttl, err := rl.TTL(r, key); err == nil && ttl > 0 {
		retryAfter = ttl.Seconds()
	}

	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{ //nolint:errcheck
		"error":       "rate limit exceeded",
		"retry_after": retryAfter,
	})
}
