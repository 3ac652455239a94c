package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	traceIDKey
)

// maxIDLength bounds caller-supplied IDs before they reach logs.
const maxIDLength = 128

// RequestID tags each request with an ID. A well-formed X-Request-ID from
// the caller is reused, anything else is replaced by a fresh UUID. A
// well-formed X-Trace-ID is propagated as is and dropped otherwise. Both
// are echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)

		if trace := r.Header.Get(TraceIDHeader); validID(trace) {
			w.Header().Set(TraceIDHeader, trace)
			ctx = context.WithValue(ctx, traceIDKey, trace)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validID accepts 1..maxIDLength bytes of visible ASCII.
func validID(id string) bool {
	if len(id) == 0 || len(id) > maxIDLength {
		return false
	}
	for _, c := range []byte(id) {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}
