package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisRepository implements Repository on Redis. Records expire through
// the key TTL, so no sweeper is needed.
type RedisRepository struct {
	client redis.UniversalClient
	expiry time.Duration
}

// NewRedisRepository creates a Redis-backed repository. A non-positive
// expiry uses DefaultExpiry.
func NewRedisRepository(client redis.UniversalClient, expiry time.Duration) *RedisRepository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &RedisRepository{client: client, expiry: expiry}
}

// Get retrieves a record by its key.
func (r *RedisRepository) Get(ctx context.Context, key string) (*Record, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	return &record, nil
}

// Store saves a new record with SET NX so concurrent writers cannot both win.
func (r *RedisRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ttl := r.expiry
	if record.Pending() && PendingExpiry < ttl {
		ttl = PendingExpiry
	}
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+record.Key, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store idempotency key: %w", err)
	}
	if !ok {
		return ErrKeyExists
	}
	return nil
}

// Complete overwrites a live reservation with SET XX and the full expiry.
func (r *RedisRepository) Complete(ctx context.Context, record *Record) error {
	record.CreatedAt = time.Now()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}
	ok, err := r.client.SetXX(ctx, redisKeyPrefix+record.Key, data, r.expiry).Result()
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	if !ok {
		return ErrKeyNotFound
	}
	return nil
}

// Release deletes the key. Only the request holding the reservation calls it.
func (r *RedisRepository) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}
