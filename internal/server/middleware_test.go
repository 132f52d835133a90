package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if captured == "" {
		t.Error("request ID not injected into context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != captured {
		t.Errorf("X-Request-ID header = %q, context value = %q", got, captured)
	}
}

func TestRequestIDMiddleware_UniquePerRequest(t *testing.T) {
	seen := make(map[string]bool)
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[GetRequestID(r.Context())] = true
	}))

	for i := 0; i < 5; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if len(seen) != 5 {
		t.Errorf("unique request IDs = %d, want 5", len(seen))
	}
}

func TestRequestIDMiddleware_HonorsInboundHeader(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", nil)
	req.Header.Set("X-Request-ID", "provider-retry-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured != "provider-retry-42" {
		t.Errorf("context request ID = %q, want the inbound header value", captured)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "provider-retry-42" {
		t.Errorf("echoed header = %q", got)
	}
}

func TestRequestIDMiddleware_RejectsOversizedInboundID(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured == "" || len(captured) > 64 {
		t.Errorf("oversized inbound ID not replaced: %q", captured)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	handler := TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("no deadline on request context")
		}
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
			t.Error("context not cancelled after timeout")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestLoggingMiddleware_FieldsAttached(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(httptest.NewRecorder().Body, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		AddLogField(r.Context(), "message_sid", "SM123")
		AddError(r.Context(), nil) // nil error is a no-op
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/sms", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202 passed through", rec.Code)
	}
}

func TestAddLogField_NoMiddleware(t *testing.T) {
	// Must not panic without the middleware's context value.
	AddLogField(context.Background(), "key", "value")
}
