package middleware

import (
	"context"
	"log/slog"
	"math"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements RateLimitStore with a fixed window counter
// in Redis, so limits hold across API replicas. Redis failures fail open.
type RedisRateLimitStore struct {
	client  redis.UniversalClient
	prefix  string
	metrics *Metrics
	logger  *slog.Logger
}

// NewRedisRateLimitStore creates a store over client. metrics may be nil.
func NewRedisRateLimitStore(client redis.UniversalClient, metrics *Metrics, logger *slog.Logger) *RedisRateLimitStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimitStore{
		client:  client,
		prefix:  "ratelimit:",
		metrics: metrics,
		logger:  logger,
	}
}

// Allow implements RateLimitStore. The first request of a window sets the
// key's expiry; later requests only increment.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int, int) {
	k := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, config.WindowDuration)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		s.metrics.IncRateLimitRedisErrors()
		s.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
			slog.String("error", err.Error()))
		return true, config.RequestsPerWindow, 0
	}

	count := int(incr.Val())
	if count <= config.RequestsPerWindow {
		return true, config.RequestsPerWindow - count, 0
	}

	retryAfter := int(math.Ceil(ttl.Val().Seconds()))
	if retryAfter <= 0 {
		retryAfter = 1
	}
	return false, 0, retryAfter
}
