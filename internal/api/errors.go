// Package api provides the HTTP handlers of the descriptor service and its
// standard JSON error envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/discovery"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/middleware"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeUnavailable indicates the request was cancelled or timed out.
	ErrCodeUnavailable = "unavailable"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response.
// It writes the appropriate HTTP status code and returns a JSON error body.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The error_code will be automatically logged by the logging middleware
// for all 4xx and 5xx responses if you call SetErrorCode on the context
// and pass the updated context to WriteError.
//
// Example:
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Descriptor not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
// This is a convenience function to map error codes to HTTP status codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeCodedError sets the error code for the logging middleware and writes
// the envelope with the status mapped from code.
func writeCodedError(w http.ResponseWriter, r *http.Request, code, message string) {
	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

// WriteStoreError maps repository and engine errors onto the error envelope.
// Unrecognized errors are logged and reported as internal errors without detail.
func WriteStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var batchErr *descriptor.BatchError
	switch {
	case errors.Is(err, descriptor.ErrNotFound):
		writeCodedError(w, r, ErrCodeNotFound, "Descriptor not found")
	case errors.Is(err, descriptor.ErrDuplicateCode):
		writeCodedError(w, r, ErrCodeConflict, "Code is already used by another descriptor in the same skill")
	case errors.Is(err, descriptor.ErrVersionConflict):
		writeCodedError(w, r, ErrCodeConflict, "Descriptor was modified by another request; reload and retry")
	case errors.Is(err, descriptor.ErrAlreadyExists):
		writeCodedError(w, r, ErrCodeConflict, "Descriptor already exists")
	case errors.As(err, &batchErr) && descriptor.IsValidationError(batchErr.Err):
		writeCodedError(w, r, ErrCodeValidation, batchErr.Error())
	case descriptor.IsValidationError(err):
		writeCodedError(w, r, ErrCodeValidation, err.Error())
	case errors.Is(err, discovery.ErrNoSource):
		writeCodedError(w, r, ErrCodeValidation, "Either a source id or text is required")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeCodedError(w, r, ErrCodeUnavailable, "Request cancelled or timed out")
	default:
		slog.ErrorContext(r.Context(), "descriptor request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeCodedError(w, r, ErrCodeInternal, "Internal server error")
	}
}
