package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/integration-core/core/internal/domain/accesskey"
	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/httpkit"
)

// EventResponse is the gateway's acknowledgment payload for both /emit
// variants (§6).
type EventResponse struct {
	Status event.State  `json:"status"`
	Hashes event.Hashes `json:"hashes"`
}

type secretKeyEmitRequest struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
}

// emitSecretKeyHandler implements "POST /emit with header
// x-buildable-secret: <access-key> (must be SecretKey type), body
// { event, payload }".
func (g *Gateway) emitSecretKeyHandler(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.Header.Get("x-buildable-secret"))
	if raw == "" {
		httpkit.BadRequest(w, "missing x-buildable-secret header")
		return
	}

	ak, err := accesskey.Parse(raw, g.Config.AccessKeySecret)
	if err != nil {
		httpkit.BadRequest(w, "malformed access key")
		return
	}
	if ak.EventType != accesskey.EventTypeSecretKey {
		httpkit.BadRequest(w, "access key is not a secret key")
		return
	}

	var req secretKeyEmitRequest
	if !httpkit.DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Event) == "" {
		httpkit.BadRequest(w, "missing event name")
		return
	}

	g.acknowledge(w, r, raw, req.Event, req.Payload, ak)
}

// emitIDKeyHandler implements "POST /emit/{access-key} where access-key is
// an Id-type key; raw body is the payload; event name is extracted via the
// key's configured JSON path from headers/body/query".
func (g *Gateway) emitIDKeyHandler(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["key"]
	ak, err := accesskey.Parse(raw, g.Config.AccessKeySecret)
	if err != nil {
		httpkit.BadRequest(w, "malformed access key")
		return
	}
	if ak.EventType != accesskey.EventTypeID {
		httpkit.BadRequest(w, "access key is not an id key")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		httpkit.BadRequest(w, "invalid request body")
		return
	}

	var payload map[string]interface{}
	if len(rawBody) > 0 {
		if err := json.Unmarshal(rawBody, &payload); err != nil {
			httpkit.BadRequest(w, "invalid request body")
			return
		}
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	name, ok := resolveEventName(ak.Data.EventPath, headers, rawBody, r.URL.Query())
	if !ok {
		httpkit.BadRequest(w, "could not resolve event name from configured path")
		return
	}

	g.acknowledge(w, r, raw, name, payload, ak)
}

func (g *Gateway) acknowledge(w http.ResponseWriter, r *http.Request, rawKey, name string, payload map[string]interface{}, ak accesskey.AccessKey) {
	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	ev, err := event.New(rawKey, name, headers, payload, ak.Data.Group)
	if err != nil {
		httpkit.InternalError(w, "failed to build event")
		return
	}
	ev.State = event.StateAcknowledged

	ewc := coreContext.EventWithContext{
		Event: ev,
		Context: coreContext.RootContext{
			EventKey:  ev.ID.String(),
			Stage:     coreContext.RootStageNew{},
			Status:    coreContext.Succeeded{},
			Timestamp: ev.CreatedAt,
		},
	}

	body, err := json.Marshal(ewc)
	if err != nil {
		httpkit.InternalError(w, "failed to encode event")
		return
	}

	if err := g.Queue.Push(r.Context(), body); err != nil {
		g.Log.WithError(err).Error("gateway: failed to push event onto work queue")
		httpkit.InternalError(w, "failed to enqueue event")
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, EventResponse{Status: ev.State, Hashes: ev.Hashes})
}

// resolveEventName walks a "/"-separated path against the one source its
// first segment names ("headers/X-Event", "query/event", or
// "body/event/name"). A path whose first segment names no source (e.g. a
// bare "event.name") is looked up in the body as a whole.
func resolveEventName(path *string, headers map[string]string, rawBody []byte, query url.Values) (string, bool) {
	if path == nil || strings.TrimSpace(*path) == "" {
		return "", false
	}

	segments := strings.Split(strings.Trim(*path, "/"), "/")
	if len(segments) == 0 {
		return "", false
	}

	source, rest := segments[0], segments[1:]
	switch source {
	case "headers":
		if len(rest) != 1 {
			return "", false
		}
		if v, ok := headers[rest[0]]; ok && v != "" {
			return v, true
		}
		return "", false
	case "query":
		if len(rest) != 1 {
			return "", false
		}
		if v := query.Get(rest[0]); v != "" {
			return v, true
		}
		return "", false
	case "body":
		return navigate(rawBody, rest)
	default:
		// No recognized source prefix: treat the whole path as a body path.
		return navigate(rawBody, segments)
	}
}

// navigate resolves a "/"-separated body path via gjson's dotted notation,
// returning ok=false when the field is absent or not a string.
func navigate(rawBody []byte, segments []string) (string, bool) {
	if len(segments) == 0 || len(rawBody) == 0 {
		return "", false
	}
	result := gjson.GetBytes(rawBody, strings.Join(segments, "."))
	if !result.Exists() || result.Type != gjson.String {
		return "", false
	}
	return result.String(), true
}
