package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks responses served from the idempotency store.
const IdempotentReplayHeader = "Idempotent-Replayed"

// maxIdempotentBody bounds the request body buffered for hashing.
const maxIdempotentBody = 1 << 20

// idempotencyResponseWriter captures the status and body written by the handler.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *idempotencyResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key already seen with the same method, path and body. Requests
// without the header pass through.
//
// The key is reserved before the handler runs, so a concurrent duplicate gets
// 409 instead of a second write. Only 2xx responses are kept; any other status
// releases the key. A key reused with a different payload is rejected with
// 422. Store failures are logged and the request proceeds without idempotency.
func Idempotency(repo idempotency.Repository, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if err := idempotency.ValidateKey(key); err != nil {
				code, message := "invalid_idempotency_key", "Idempotency-Key must be printable ASCII without spaces"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					code = "idempotency_key_too_long"
					message = fmt.Sprintf("Idempotency-Key exceeds maximum length of %d characters", idempotency.MaxKeyLength)
				}
				writeMiddlewareError(w, r, http.StatusBadRequest, code, message)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				writeMiddlewareError(w, r, http.StatusBadRequest, "bad_request", "Request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := idempotency.HashRequest(r.Method, r.URL.Path, body)

			reservation := &idempotency.Record{Key: key, Method: r.Method, Route: r.URL.Path, RequestHash: hash}
			err = repo.Store(ctx, reservation)
			if errors.Is(err, idempotency.ErrKeyExists) {
				var existing *idempotency.Record
				existing, err = repo.Get(ctx, key)
				if err == nil {
					replayOrReject(w, r, existing, hash, metrics, logger)
					return
				}
				if errors.Is(err, idempotency.ErrKeyNotFound) {
					// Released or expired between Store and Get.
					metrics.IncIdempotency(IdempotencyPending)
					writeInProgress(w, r)
					return
				}
			}
			if err != nil {
				logger.ErrorContext(ctx, "failed to reserve idempotency key",
					slog.String("key", key),
					slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				if err := repo.Release(ctx, key); err != nil {
					logger.ErrorContext(ctx, "failed to release idempotency key",
						slog.String("key", key),
						slog.String("error", err.Error()))
				}
				return
			}
			record := &idempotency.Record{
				Key:         key,
				Method:      r.Method,
				Route:       r.URL.Path,
				RequestHash: hash,
				StatusCode:  capture.statusCode,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.String(),
			}
			if err := repo.Complete(ctx, record); err != nil {
				logger.ErrorContext(ctx, "failed to store idempotency key",
					slog.String("key", key),
					slog.String("error", err.Error()))
				return
			}
			metrics.IncIdempotency(IdempotencyStored)
		})
	}
}

// replayOrReject answers a request whose key is already taken.
func replayOrReject(w http.ResponseWriter, r *http.Request, existing *idempotency.Record, hash string, metrics *Metrics, logger *slog.Logger) {
	switch {
	case existing.RequestHash != hash:
		metrics.IncIdempotency(IdempotencyReused)
		writeMiddlewareError(w, r, http.StatusUnprocessableEntity, "idempotency_key_reused",
			"Idempotency-Key was already used with a different request")
	case existing.Pending():
		metrics.IncIdempotency(IdempotencyPending)
		writeInProgress(w, r)
	default:
		metrics.IncIdempotency(IdempotencyReplayed)
		logger.InfoContext(r.Context(), "replaying idempotent response",
			slog.String("key", existing.Key),
			slog.Int("status", existing.StatusCode))
		if existing.ContentType != "" {
			w.Header().Set("Content-Type", existing.ContentType)
		}
		w.Header().Set(IdempotentReplayHeader, "true")
		w.WriteHeader(existing.StatusCode)
		_, _ = io.WriteString(w, existing.Body)
	}
}

func writeInProgress(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	writeMiddlewareError(w, r, http.StatusConflict, "idempotency_key_in_progress",
		"A request with this Idempotency-Key is still being processed")
}

// writeMiddlewareError writes the standard error envelope from middleware,
// which cannot depend on the api package.
func writeMiddlewareError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%q,"message":%q}}`, code, message)
}
