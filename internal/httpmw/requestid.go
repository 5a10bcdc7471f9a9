package httpmw

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestIDHeader is the response header carrying the per-request
// correlation ID, echoed back so a caller can cite it when reporting an
// issue (§5 "every error response carries enough to reconstruct what
// happened").
const RequestIDHeader = "X-Request-Id"

// RequestIDMiddleware assigns a fresh UUID to every request lacking one
// already (allowing an upstream proxy to set its own), storing it in the
// request context and echoing it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the correlation ID stashed by RequestIDMiddleware, or
// "" if the request never passed through it.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
