package httpmw

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/integration-core/core/internal/httpkit"
	"github.com/integration-core/core/internal/logging"
)

// RecoveryMiddleware recovers from panics, logs them with a stack trace,
// and responds with a 500 instead of closing the connection.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler returns the recovery middleware handler.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.WithFields(map[string]interface{}{
					"panic":       fmt.Sprintf("%v", err),
					"stack":       string(debug.Stack()),
					"path":        r.URL.Path,
					"method":      r.Method,
					"remote_addr": r.RemoteAddr,
				}).Error("panic recovered")

				httpkit.InternalError(w, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
