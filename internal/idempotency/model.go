// Package idempotency stores replayable responses for client-supplied
// Idempotency-Key headers so a retried descriptor write is applied once.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to create a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is empty or holds non-printable characters.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a stored response stays replayable.
const DefaultExpiry = 24 * time.Hour

// PendingExpiry bounds how long a reservation blocks its key when the request
// holding it never completes.
const PendingExpiry = time.Minute

// Record is a request and, once completed, the response it produced. A record
// with a zero StatusCode is a reservation held while the request runs.
type Record struct {
	Key         string    `json:"key"`
	Method      string    `json:"method"`
	Route       string    `json:"route"`
	RequestHash string    `json:"request_hash"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Pending reports whether the record is a reservation without a response yet.
func (r *Record) Pending() bool {
	return r.StatusCode == 0
}

// ValidateKey checks if an idempotency key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return ErrInvalidKey
		}
	}
	return nil
}

// HashRequest fingerprints a request so a key reused for a different
// payload can be told apart from a genuine retry.
func HashRequest(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Repository defines methods for idempotency record persistence.
type Repository interface {
	// Get returns ErrKeyNotFound if the key doesn't exist or has expired.
	Get(ctx context.Context, key string) (*Record, error)

	// Store saves a new record. Returns ErrKeyExists if the key is taken.
	// A pending record reserves the key for PendingExpiry.
	Store(ctx context.Context, record *Record) error

	// Complete replaces a reservation with the finished response and extends
	// it to the full expiry. Returns ErrKeyNotFound if the reservation is gone.
	Complete(ctx context.Context, record *Record) error

	// Release drops a reservation so the key can be used again.
	Release(ctx context.Context, key string) error
}
