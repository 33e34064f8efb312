package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// TraceHeader carries the per-request trace id. Proxies that only know
// X-Request-ID can still seed it.
const (
	TraceHeader     = "X-Signal-Trace"
	fallbackHeader  = "X-Request-ID"
	maxTraceIDBytes = 64
)

type traceKey struct{}

// TraceMiddleware attaches a trace id to the request context and the
// response. A well-formed client id is kept; anything else is replaced with
// a generated "trc_" id.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceHeader)
		if id == "" {
			id = r.Header.Get(fallbackHeader)
		}
		if !validTraceID(id) {
			id = NewTraceID()
		}
		w.Header().Set(TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), id)))
	})
}

// NewTraceID returns "trc_" followed by 32 hex characters.
func NewTraceID() string {
	return "trc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithTraceID stores id on ctx.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// TraceID returns the trace id on ctx, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// validTraceID accepts short ids made of letters, digits, '-', '_' and '.'
// so they are safe to echo into headers and logs.
func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDBytes {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
