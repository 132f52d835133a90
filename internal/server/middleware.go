package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// requestIDKey identifies the request ID in a request context.
type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware tags each request with an ID for log correlation.
// An inbound X-Request-ID is kept so the ID stays stable when the SMS
// provider retries a callback; otherwise a fresh UUID is assigned. The
// ID is echoed back in the response header either way.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the request ID, or "" outside the middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// TimeoutMiddleware bounds each request context. Handlers that respect
// their context give up once the deadline passes; webhook work that
// must outlive the response is expected to detach first.
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
