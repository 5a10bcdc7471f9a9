// Package unifiedapi is the synchronous Unified API (§6): it resolves an
// HTTP request directly into a dispatcher.Request and returns the
// dispatcher's response envelope inline, instead of going through the
// gateway's event/pipeline path. It is a second HTTP surface from
// internal/gateway, built on gin (listed in the teacher's go.mod but
// never imported by the teacher's own tree) rather than gorilla/mux, to
// give gin's wildcard path-param routing a genuine home for
// "/v1/passthrough/*path".
package unifiedapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/integration-core/core/internal/dispatcher"
	"github.com/integration-core/core/internal/domain/cmd"
	coreerrors "github.com/integration-core/core/internal/errors"
	"github.com/integration-core/core/internal/logging"
	"github.com/integration-core/core/internal/metrics"
)

const (
	headerTenantSecret   = "x-integrationos-secret"
	headerConnectionKey  = "x-integrationos-connection-key"
	headerEnablePass     = "x-integrationos-enable-passthrough"
	headerResponseStatus = "response-status"
)

// Config controls tenant authentication for the unified API surface.
type Config struct {
	// TenantSecret, when non-empty, must match the x-integrationos-secret
	// header on every request.
	TenantSecret string
}

// API wires the unified/passthrough HTTP surface to a Dispatcher.
type API struct {
	Config      Config
	Connections dispatcher.ConnectionResolver
	Dispatcher  *dispatcher.Dispatcher
	Log         *logging.Logger
}

// New builds an API. log may be nil, in which case a default logger is
// created.
func New(cfg Config, connections dispatcher.ConnectionResolver, d *dispatcher.Dispatcher, log *logging.Logger) *API {
	if log == nil {
		log = logging.NewFromEnv("unifiedapi")
	}
	return &API{Config: cfg, Connections: connections, Dispatcher: d, Log: log}
}

// Router builds the gin engine exposing /v1/unified/... and
// /v1/passthrough/....
func (a *API) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.loggingMiddleware)
	router.Use(a.authMiddleware)

	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/v1/unified/:model", a.unified(cmd.ActionGetMany))
	router.POST("/v1/unified/:model", a.unified(cmd.ActionCreate))
	router.GET("/v1/unified/:model/count", a.unified(cmd.ActionGetCount))
	router.GET("/v1/unified/:model/:id", a.unified(cmd.ActionGetOne))
	router.PATCH("/v1/unified/:model/:id", a.unified(cmd.ActionUpdate))
	router.DELETE("/v1/unified/:model/:id", a.unified(cmd.ActionDelete))

	router.Any("/v1/passthrough/:platform/*path", a.passthrough)

	return router
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (a *API) loggingMiddleware(c *gin.Context) {
	start := time.Now()
	metrics.InFlightInc()
	defer metrics.InFlightDec()

	c.Next()

	metrics.RecordHTTPRequest("unifiedapi", c.Request.Method, c.FullPath(), strconv.Itoa(c.Writer.Status()), time.Since(start))
	a.Log.WithFields(map[string]interface{}{
		"method": c.Request.Method,
		"path":   c.FullPath(),
		"status": c.Writer.Status(),
	}).Info("unifiedapi request")
}

func (a *API) authMiddleware(c *gin.Context) {
	if c.FullPath() == "/health" || c.FullPath() == "/metrics" {
		c.Next()
		return
	}
	if a.Config.TenantSecret != "" && c.GetHeader(headerTenantSecret) != a.Config.TenantSecret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing tenant secret"})
		return
	}
	c.Next()
}

// unified handles GET|POST|PATCH|DELETE /v1/unified/:model[/:id][/count].
func (a *API) unified(action cmd.ActionName) gin.HandlerFunc {
	return func(c *gin.Context) {
		connectionKey := c.GetHeader(headerConnectionKey)
		if connectionKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + headerConnectionKey})
			return
		}

		conn, err := a.Connections.Get(c.Request.Context(), connectionKey)
		if err != nil {
			a.writeError(c, err)
			return
		}

		var body map[string]interface{}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil && c.Request.Method != http.MethodGet {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON body"})
				return
			}
		}

		req := dispatcher.Request{
			Destination: dispatcher.Destination{
				Platform:        conn.Platform,
				PlatformVersion: conn.PlatformVersion,
				ConnectionKey:   connectionKey,
				Action: dispatcher.UnifiedAction{
					CommonModelName: c.Param("model"),
					ActionName:      string(action),
					ID:              c.Param("id"),
				},
			},
			IncludePassthrough: c.GetHeader(headerEnablePass) != "",
			Environment:        string(conn.Environment),
			Headers:            flattenHeaders(c.Request.Header),
			Query:              flattenQuery(c),
			Body:               body,
		}

		a.dispatch(c, req)
	}
}

// passthrough handles "* /v1/passthrough/{platform}/{path...}".
func (a *API) passthrough(c *gin.Context) {
	connectionKey := c.GetHeader(headerConnectionKey)
	if connectionKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + headerConnectionKey})
		return
	}

	conn, err := a.Connections.Get(c.Request.Context(), connectionKey)
	if err != nil {
		a.writeError(c, err)
		return
	}

	var body map[string]interface{}
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&body)
	}

	req := dispatcher.Request{
		Destination: dispatcher.Destination{
			Platform:        conn.Platform,
			PlatformVersion: conn.PlatformVersion,
			ConnectionKey:   connectionKey,
			Action: dispatcher.PassthroughAction{
				Method: c.Request.Method,
				Path:   c.Param("path"),
			},
		},
		IncludePassthrough: true,
		Environment:        string(conn.Environment),
		Headers:            flattenHeaders(c.Request.Header),
		Query:              flattenQuery(c),
		Body:               body,
	}

	a.dispatch(c, req)
}

func (a *API) dispatch(c *gin.Context, req dispatcher.Request) {
	result, err := a.Dispatcher.UnifiedSend(c.Request.Context(), req)
	if err != nil {
		a.writeError(c, err)
		return
	}

	c.Header(headerResponseStatus, strconv.Itoa(result.HTTPStatus))
	switch {
	case result.UpstreamError != nil:
		c.JSON(result.HTTPStatus, result.UpstreamError)
	case result.Unprocessable != nil:
		c.JSON(result.HTTPStatus, result.Unprocessable)
	default:
		c.JSON(result.HTTPStatus, result.Envelope)
	}
}

func (a *API) writeError(c *gin.Context, err error) {
	ce := coreerrors.As(err)
	if ce == nil {
		a.Log.WithError(err).Error("unifiedapi: unmapped error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(ce.HTTPStatus, gin.H{"error": ce.Message, "code": ce.Key(), "details": ce.Details})
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

func flattenQuery(c *gin.Context) map[string]string {
	out := map[string]string{}
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
