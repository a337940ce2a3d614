package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID_GeneratesNewID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestID(r.Context())
		if requestID == "" {
			t.Error("expected request ID in context, got empty string")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	responseID := rr.Header().Get(RequestIDHeader)
	if responseID == "" {
		t.Error("expected X-Request-ID header in response, got empty string")
	}
}

func TestRequestID_UsesExistingHeader(t *testing.T) {
	existingID := "existing-request-id-123"
	var capturedID string

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedID = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, existingID)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if capturedID != existingID {
		t.Errorf("expected request ID %q, got %q", existingID, capturedID)
	}

	responseID := rr.Header().Get(RequestIDHeader)
	if responseID != existingID {
		t.Errorf("expected response header %q, got %q", existingID, responseID)
	}
}

func TestGetRequestID_EmptyContextReturnsEmptyString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	requestID := GetRequestID(req.Context())
	if requestID != "" {
		t.Errorf("expected empty string, got %q", requestID)
	}
}

func TestRequestID_ReplacesMalformedHeader(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "whitespace", id: "has space"},
		{name: "control character", id: "id\x01"},
		{name: "too long", id: strings.Repeat("a", maxRequestIDLength+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/descriptors/search", nil)
			req.Header.Set(RequestIDHeader, tt.id)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if captured == tt.id {
				t.Errorf("expected malformed id %q to be replaced", tt.id)
			}
			if _, err := uuid.Parse(captured); err != nil {
				t.Errorf("expected generated UUID, got %q", captured)
			}
		})
	}
}
