// Package httpmw provides the gorilla/mux middleware the gateway's router
// chains: request logging, panic recovery, CORS, and a request body size
// cap.
package httpmw

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/integration-core/core/internal/logging"
)

// LoggingMiddleware logs each request's method, path, status, and
// duration once it completes.
func LoggingMiddleware(logger *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     wrapped.statusCode,
				"duration":   time.Since(start).String(),
				"requestId":  RequestID(r.Context()),
			}).Info("http request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
