package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want error
	}{
		{name: "uuid", key: "6f1c2b6e-8a3d-4c55-9d8e-2f1a0b3c4d5e"},
		{name: "max length", key: strings.Repeat("k", MaxKeyLength)},
		{name: "empty", key: "", want: ErrInvalidKey},
		{name: "too long", key: strings.Repeat("k", MaxKeyLength+1), want: ErrKeyTooLong},
		{name: "space", key: "two words", want: ErrInvalidKey},
		{name: "control character", key: "key\n", want: ErrInvalidKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateKey(tt.key); !errors.Is(err, tt.want) {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.want)
			}
		})
	}
}

func TestHashRequest(t *testing.T) {
	base := HashRequest("POST", "/descriptors", []byte(`{"code":"A1"}`))
	if base != HashRequest("POST", "/descriptors", []byte(`{"code":"A1"}`)) {
		t.Error("hash is not deterministic")
	}
	if len(base) != 64 {
		t.Errorf("expected hex sha256, got %d chars", len(base))
	}
	if base == HashRequest("POST", "/descriptors", []byte(`{"code":"A2"}`)) {
		t.Error("different bodies must hash differently")
	}
	if base == HashRequest("PUT", "/descriptors", []byte(`{"code":"A1"}`)) {
		t.Error("different methods must hash differently")
	}
	if HashRequest("POST", "/a", []byte("b")) == HashRequest("POST", "/ab", nil) {
		t.Error("route and body boundaries must be unambiguous")
	}
}

func TestInMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	if _, err := repo.Get(ctx, "k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get() on empty repo = %v, want ErrKeyNotFound", err)
	}

	rec := &Record{Key: "k1", Method: "POST", Route: "/descriptors", StatusCode: 201, Body: `{"ok":true}`}
	if err := repo.Store(ctx, rec); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !rec.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, now)
	}
	if err := repo.Store(ctx, &Record{Key: "k1"}); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Store() = %v, want ErrKeyExists", err)
	}
	if err := repo.Store(ctx, &Record{Key: ""}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Store() with empty key = %v, want ErrInvalidKey", err)
	}

	got, err := repo.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Body = "mutated"
	again, _ := repo.Get(ctx, "k1")
	if again.Body != `{"ok":true}` {
		t.Error("Get() must return a copy")
	}

	now = now.Add(2 * time.Hour)
	if _, err := repo.Get(ctx, "k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expired Get() = %v, want ErrKeyNotFound", err)
	}
	if err := repo.Store(ctx, &Record{Key: "k1", StatusCode: 200}); err != nil {
		t.Errorf("Store() over expired key = %v", err)
	}
}

func TestInMemoryRepository_Reservation(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	if err := repo.Complete(ctx, &Record{Key: "k1", StatusCode: 201}); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Complete() without reservation = %v, want ErrKeyNotFound", err)
	}

	if err := repo.Store(ctx, &Record{Key: "k1", RequestHash: "h"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	got, err := repo.Get(ctx, "k1")
	if err != nil || !got.Pending() {
		t.Fatalf("expected pending record, got %+v (%v)", got, err)
	}
	if err := repo.Store(ctx, &Record{Key: "k1", RequestHash: "h"}); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second reserve = %v, want ErrKeyExists", err)
	}

	if err := repo.Release(ctx, "k1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := repo.Get(ctx, "k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() after release = %v, want ErrKeyNotFound", err)
	}

	if err := repo.Store(ctx, &Record{Key: "k1", RequestHash: "h"}); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	now = now.Add(PendingExpiry / 2)
	if err := repo.Complete(ctx, &Record{Key: "k1", RequestHash: "h", StatusCode: 201, Body: "ok"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := repo.Release(ctx, "k1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	now = now.Add(30 * time.Minute)
	got, err = repo.Get(ctx, "k1")
	if err != nil || got.Pending() || got.Body != "ok" {
		t.Errorf("expected completed record to outlive reservation expiry and release, got %+v (%v)", got, err)
	}
}

func TestInMemoryRepository_AbandonedReservationExpires(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	if err := repo.Store(ctx, &Record{Key: "k1"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	now = now.Add(PendingExpiry + time.Second)
	if _, err := repo.Get(ctx, "k1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get() on stale reservation = %v, want ErrKeyNotFound", err)
	}
	if err := repo.Store(ctx, &Record{Key: "k1"}); err != nil {
		t.Errorf("reserve over stale reservation = %v", err)
	}
}

func TestCleanupOldKeys(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewInMemoryRepository(0)
	now := time.Now()

	_ = repo.Store(ctx, &Record{Key: "old", StatusCode: 201, CreatedAt: now.Add(-48 * time.Hour)})
	_ = repo.Store(ctx, &Record{Key: "fresh", StatusCode: 201, CreatedAt: now.Add(-time.Minute)})

	deleted, err := CleanupOldKeys(ctx, repo, DefaultExpiry, logger)
	if err != nil {
		t.Fatalf("CleanupOldKeys() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := repo.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh key removed: %v", err)
	}
}

func TestRunPeriodicCleanup_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewInMemoryRepository(time.Millisecond)
	_ = repo.Store(context.Background(), &Record{Key: "k", CreatedAt: time.Now().Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunPeriodicCleanup(ctx, repo, 5*time.Millisecond, time.Millisecond, logger)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		repo.mu.RLock()
		n := len(repo.keys)
		repo.mu.RUnlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cleanup never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPeriodicCleanup did not stop")
	}
}

// TestRedisRepository needs a Redis instance on localhost:6379 and skips otherwise.
func TestRedisRepository(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer client.Close()

	repo := NewRedisRepository(client, time.Minute)
	key := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(context.Background(), redisKeyPrefix+key)

	if _, err := repo.Get(ctx, key); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get() = %v, want ErrKeyNotFound", err)
	}
	rec := &Record{Key: key, Method: "POST", Route: "/descriptors", RequestHash: "abc", StatusCode: 201, Body: `{"id":"x"}`}
	if err := repo.Store(ctx, rec); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := repo.Store(ctx, rec); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Store() = %v, want ErrKeyExists", err)
	}
	got, err := repo.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StatusCode != 201 || got.Body != rec.Body || got.RequestHash != "abc" {
		t.Errorf("unexpected record %+v", got)
	}
	ttl, err := client.TTL(ctx, redisKeyPrefix+key).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected TTL %v (err %v)", ttl, err)
	}

	pendingKey := key + "-pending"
	defer client.Del(context.Background(), redisKeyPrefix+pendingKey)
	if err := repo.Complete(ctx, &Record{Key: pendingKey, StatusCode: 201}); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Complete() without reservation = %v, want ErrKeyNotFound", err)
	}
	if err := repo.Store(ctx, &Record{Key: pendingKey, RequestHash: "abc"}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := repo.Release(ctx, pendingKey); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := repo.Store(ctx, &Record{Key: pendingKey, RequestHash: "abc"}); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if err := repo.Complete(ctx, &Record{Key: pendingKey, RequestHash: "abc", StatusCode: 201, Body: "ok"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	got, err = repo.Get(ctx, pendingKey)
	if err != nil || got.Pending() || got.Body != "ok" {
		t.Errorf("unexpected completed record %+v (%v)", got, err)
	}
}
