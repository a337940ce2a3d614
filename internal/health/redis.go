package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultRedisTimeout caps a readiness ping so a wedged Redis cannot stall /ready.
const defaultRedisTimeout = 2 * time.Second

// RedisChecker reports whether the Redis instance backing the rate limiter
// and idempotency keys answers PING.
type RedisChecker struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisChecker creates a checker with a two second ping timeout.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client, timeout: defaultRedisTimeout}
}

// HealthCheck pings Redis and expects PONG.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := r.client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	if reply != "PONG" {
		return fmt.Errorf("ping redis: unexpected reply %q", reply)
	}
	return nil
}
