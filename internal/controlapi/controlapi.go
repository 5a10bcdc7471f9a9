// Package controlapi is the internal, service-to-service control surface
// between the gateway and the engine (SPEC_FULL "internal auth between
// gateway and engine"). It is deliberately NOT a CRUD admin API (an
// explicit Non-goal) — it exposes only the two operational actions an
// operator needs when diagnosing a stuck event: engine status, and a
// manual requeue of one event back onto the work queue. Every request
// must carry a bearer token signed with the shared control secret.
package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/logging"
	"github.com/integration-core/core/internal/queue"
)

// EventLookup fetches a persisted event by key; satisfied by
// watchdog.EventLookup / store/postgres.EventStore.
type EventLookup interface {
	Get(ctx context.Context, eventKey string) (event.Event, bool, error)
}

// API wires the control surface to the work queue and event store.
type API struct {
	Secret []byte
	Events EventLookup
	Queue  queue.WorkQueue
	Log    *logging.Logger
}

// New builds an API. log may be nil, in which case a default logger is
// created.
func New(secret []byte, events EventLookup, q queue.WorkQueue, log *logging.Logger) *API {
	if log == nil {
		log = logging.NewFromEnv("controlapi")
	}
	return &API{Secret: secret, Events: events, Queue: q, Log: log}
}

// Router builds the gin engine exposing the control surface.
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.authMiddleware)

	router.GET("/status", a.status)
	router.POST("/events/:id/requeue", a.requeue)

	return router
}

func (a *API) authMiddleware(c *gin.Context) {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	raw := header[len(prefix):]

	_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid control token"})
		return
	}
	c.Next()
}

func (a *API) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// requeue re-enqueues the named event onto the work queue starting from
// RootStageNew, the same path a stream-processor side effect takes.
func (a *API) requeue(c *gin.Context) {
	eventKey := c.Param("id")

	ev, found, err := a.Events.Get(c.Request.Context(), eventKey)
	if err != nil {
		a.Log.WithError(err).Error("controlapi: failed to look up event for requeue")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	ewc := coreContext.EventWithContext{
		Event: ev,
		Context: coreContext.RootContext{
			EventKey:  eventKey,
			Stage:     coreContext.RootStageNew{},
			Status:    coreContext.Succeeded{},
			Timestamp: time.Now(),
		},
	}
	payload, err := json.Marshal(ewc)
	if err != nil {
		a.Log.WithError(err).Error("controlapi: failed to encode requeued event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := a.Queue.Push(c.Request.Context(), payload); err != nil {
		a.Log.WithError(err).Error("controlapi: failed to push requeued event onto work queue")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	a.Log.WithFields(map[string]interface{}{"event_key": eventKey}).Info("controlapi: event requeued")
	c.JSON(http.StatusAccepted, gin.H{"requeued": eventKey})
}
