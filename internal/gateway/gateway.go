// Package gateway is the HTTP ingress boundary: it validates an access
// key, builds an Event, and hands an EventWithContext to the work queue
// for the pipeline engine to pick up (§6, §5.8). Routing and middleware
// follow the teacher's cmd/gateway wiring, adapted onto gorilla/mux plus
// internal/logging and internal/httpmw.
package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/integration-core/core/internal/httpmw"
	"github.com/integration-core/core/internal/logging"
	"github.com/integration-core/core/internal/metrics"
	"github.com/integration-core/core/internal/queue"
)

// Config controls the access-key secret and the work queue the gateway
// pushes onto.
type Config struct {
	AccessKeySecret []byte
	CORSOrigins     []string
}

// Gateway wires the /emit surface to a WorkQueue.
type Gateway struct {
	Config Config
	Queue  queue.WorkQueue
	Log    *logging.Logger
}

// New builds a Gateway. log may be nil, in which case a default logger is
// created.
func New(cfg Config, q queue.WorkQueue, log *logging.Logger) *Gateway {
	if log == nil {
		log = logging.NewFromEnv("gateway")
	}
	return &Gateway{Config: cfg, Queue: q, Log: log}
}

// Router builds the gorilla/mux router exposing /emit, /emit/{key},
// /health, and /metrics.
func (g *Gateway) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(httpmw.RequestIDMiddleware)
	router.Use(httpmw.LoggingMiddleware(g.Log))
	router.Use(httpmw.NewRecoveryMiddleware(g.Log).Handler)
	router.Use(httpmw.NewCORSMiddleware(&httpmw.CORSConfig{
		AllowedOrigins: g.Config.CORSOrigins,
	}).Handler)
	router.Use(httpmw.NewBodyLimitMiddleware(0).Handler)
	router.Use(metricsMiddleware)

	router.HandleFunc("/health", g.healthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/emit", g.emitSecretKeyHandler).Methods(http.MethodPost)
	router.HandleFunc("/emit/{key}", g.emitIDKeyHandler).Methods(http.MethodPost)

	return router
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// metricsMiddleware records per-request counters and latency under the
// route's path template rather than the raw URL, so /emit/{key} doesn't
// fragment into one series per access key.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.InFlightInc()
		defer metrics.InFlightDec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.RecordHTTPRequest("gateway", r.Method, path, strconv.Itoa(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
