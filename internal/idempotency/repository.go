package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
// Expired records are hidden from Get and removed by DeleteOlderThan.
type InMemoryRepository struct {
	mu     sync.RWMutex
	keys   map[string]Record
	expiry time.Duration
	now    func() time.Time
}

// NewInMemoryRepository creates an in-memory repository. A non-positive
// expiry uses DefaultExpiry.
func NewInMemoryRepository(expiry time.Duration) *InMemoryRepository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &InMemoryRepository{
		keys:   make(map[string]Record),
		expiry: expiry,
		now:    time.Now,
	}
}

// Get retrieves a record by its key.
func (r *InMemoryRepository) Get(ctx context.Context, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok || r.expired(record, r.now()) {
		return nil, ErrKeyNotFound
	}
	return &record, nil
}

// Store saves a new record. An expired record under the same key is replaced.
func (r *InMemoryRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, exists := r.keys[record.Key]; exists && !r.expired(existing, now) {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	r.keys[record.Key] = *record
	return nil
}

// Complete replaces a live reservation with the finished record.
func (r *InMemoryRepository) Complete(ctx context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	existing, ok := r.keys[record.Key]
	if !ok || r.expired(existing, now) {
		return ErrKeyNotFound
	}
	record.CreatedAt = now
	r.keys[record.Key] = *record
	return nil
}

// Release removes a reservation. Completed records are kept.
func (r *InMemoryRepository) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.keys[key]; ok && existing.Pending() {
		delete(r.keys, key)
	}
	return nil
}

func (r *InMemoryRepository) expired(record Record, now time.Time) bool {
	ttl := r.expiry
	if record.Pending() && PendingExpiry < ttl {
		ttl = PendingExpiry
	}
	return now.Sub(record.CreatedAt) > ttl
}

// DeleteOlderThan removes records older than the given age and returns how many were deleted.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	var deleted int64
	for key, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, key)
			deleted++
		}
	}
	return deleted, nil
}
