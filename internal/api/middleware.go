package api

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// WithRequestID tags every request with a UUID (logged and echoed back as
// X-Request-ID) so a single download or search can be traced through the
// cache-miss / upstream-fetch / mirror-failover log lines that follow it.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		log.Printf("api: request start: id=%s method=%s path=%s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id WithRequestID attached to ctx, or "" if none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
