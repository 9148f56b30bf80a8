package middleware

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"storefront/server/internal/observability"
)

// ContextKey is the type for context keys
type ContextKey string

// RequestIDKey is the context key for request tracing ID
const RequestIDKey ContextKey = "requestID"

// RequestIDHeader carries the request ID in and out of the server.
const RequestIDHeader = "X-Request-ID"

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLog propagates or assigns a request ID, echoes it in the response
// and logs each request once it completes.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(rec, r.WithContext(ctx))

		durationMs := time.Since(start).Milliseconds()
		log.Printf("[http] %s %s %d %dms id=%s", r.Method, r.URL.Path, rec.status, durationMs, requestID)
		observability.LogRequest(requestID, r.Method, r.URL.Path, rec.status, durationMs)
	})
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func generateRequestID() string {
	return uuid.NewString()
}

// Stack wraps h with the server's standard middleware. RequestLog is
// outermost so recovered panics carry the request ID and are access-logged.
func Stack(h http.Handler) http.Handler {
	return RequestLog(Recovery(h))
}
