// Package dispatcher implements the Unified Dispatcher (§4.3): resolving a
// caller's unified or passthrough action into a concrete outgoing HTTP call
// against a rendered CMD, and normalizing the response back through CMS.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/aymerick/raymond"
	"github.com/tidwall/sjson"

	"github.com/integration-core/core/internal/callerclient"
	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/cms"
	"github.com/integration-core/core/internal/domain/connection"
	"github.com/integration-core/core/internal/domain/id"
	coreerrors "github.com/integration-core/core/internal/errors"
	"github.com/integration-core/core/internal/metrics"
	"github.com/integration-core/core/internal/ratelimit"
	"github.com/integration-core/core/internal/scripthost"
)

// CMDResolver fetches CMD definitions by either passthrough or unified key.
type CMDResolver interface {
	PassthroughCandidates(ctx context.Context, platform, method string) ([]cmd.CMD, error)
	Unified(ctx context.Context, platform, commonModelName, actionName string) (cmd.CMD, error)
}

// CMSResolver fetches the CMS bound to a common model on a platform.
type CMSResolver interface {
	Get(ctx context.Context, platform, commonModelName string) (cms.CMS, error)
}

// SecretResolver fetches a connection's decrypted secret document.
type SecretResolver interface {
	Get(ctx context.Context, connectionKey string) (map[string]interface{}, error)
}

// ConnectionResolver fetches a Connection by its routable key.
type ConnectionResolver interface {
	Get(ctx context.Context, connectionKey string) (connection.Connection, error)
}

// Dispatcher executes unified_send (§4.3).
type Dispatcher struct {
	CMDs        CMDResolver
	CMSs        CMSResolver
	Secrets     SecretResolver
	Connections ConnectionResolver
	Scripts     *scripthost.Host
	Caller      *callerclient.Client
	Limiter     *ratelimit.Limiter
	Host        string
}

// Request is the input to unified_send.
type Request struct {
	Destination        Destination
	IncludePassthrough  bool
	Environment         string
	Headers             map[string]string
	Query               map[string]string
	Body                map[string]interface{}
}

// Result is unified_send's output: a normalized Envelope, a verbatim
// UpstreamErrorEnvelope, or an UnprocessableEnvelope, tagged by HTTPStatus.
type Result struct {
	HTTPStatus     int
	Envelope       *Envelope
	UpstreamError  *UpstreamErrorEnvelope
	Unprocessable  *UnprocessableEnvelope
}

// UnifiedSend resolves req.Destination to a concrete CMD, executes it, and
// normalizes the response, following the thirteen steps of §4.3.
func (d *Dispatcher) UnifiedSend(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	kind, result, err := d.dispatch(ctx, req)
	metrics.RecordDispatch(req.Destination.Platform, kind, dispatchOutcome(result, err), time.Since(start))
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (kind string, result *Result, err error) {
	switch action := req.Destination.Action.(type) {
	case PassthroughAction:
		result, err = d.sendPassthrough(ctx, req, action)
		return "passthrough", result, err
	case UnifiedAction:
		result, err = d.sendUnified(ctx, req, action)
		return "unified", result, err
	default:
		return "unknown", nil, coreerrors.InvalidArgument("dispatcher: unknown action kind")
	}
}

func dispatchOutcome(result *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case result == nil:
		return "error"
	case result.UpstreamError != nil:
		return "upstream_error"
	case result.Unprocessable != nil:
		return "unprocessable"
	default:
		return "success"
	}
}

func (d *Dispatcher) sendPassthrough(ctx context.Context, req Request, action PassthroughAction) (*Result, error) {
	candidates, err := d.CMDs.PassthroughCandidates(ctx, req.Destination.Platform, action.Method)
	if err != nil {
		return nil, err
	}

	routes := make([]string, 0, len(candidates))
	byPath := make(map[string]cmd.CMD, len(candidates))
	for _, c := range candidates {
		api, ok := c.API()
		if !ok {
			continue
		}
		routes = append(routes, api.Path)
		byPath[api.Path] = c
	}

	matchedRoute, found, ambiguous := matchRoute(action.Path, routes)
	if ambiguous {
		return nil, coreerrors.InvalidArgument("Multiple connection model definitions found for this path")
	}
	if !found {
		return nil, coreerrors.NotFound("dispatcher: no passthrough route matched")
	}

	matchedCMD := byPath[matchedRoute]
	templatedPath := templateRoute(matchedRoute, action.Path)

	return d.execute(ctx, req, matchedCMD, templatedPath, "", "")
}

func (d *Dispatcher) sendUnified(ctx context.Context, req Request, action UnifiedAction) (*Result, error) {
	matched, err := d.CMDs.Unified(ctx, req.Destination.Platform, action.CommonModelName, action.ActionName)
	if err != nil {
		return nil, err
	}

	api, ok := matched.API()
	if !ok {
		return nil, coreerrors.InvalidArgument("dispatcher: CMD has no API platform info")
	}

	return d.execute(ctx, req, matched, api.Path, action.CommonModelName, action.ID)
}

// execute runs steps 1-13 of §4.3 against an already-resolved CMD.
func (d *Dispatcher) execute(ctx context.Context, req Request, matchedCMD cmd.CMD, path, commonModelName, pathID string) (*Result, error) {
	start := time.Now()
	connectionKey := req.Destination.ConnectionKey

	meta := Meta{
		Timestamp:           start,
		Platform:            req.Destination.Platform,
		PlatformVersion:     req.Destination.PlatformVersion,
		ConnectionKey:       connectionKey,
		TransactionKey:      id.New(id.PrefixTransaction).String(),
		Host:                d.Host,
		CommonModel:         commonModelName,
		CommonModelVersion:  "v1",
	}
	if matchedCMD.ActionName != "" {
		meta.Action = string(matchedCMD.ActionName)
	} else {
		meta.Action = matchedCMD.Action
	}

	// Step 1: concurrently load CMD (already resolved), secret, and CMS.
	type secretResult struct {
		secret map[string]interface{}
		err    error
	}
	type cmsResult struct {
		schema cms.CMS
		err    error
	}
	secretCh := make(chan secretResult, 1)
	cmsCh := make(chan cmsResult, 1)

	go func() {
		s, err := d.Secrets.Get(ctx, connectionKey)
		secretCh <- secretResult{s, err}
	}()
	go func() {
		if commonModelName == "" {
			cmsCh <- cmsResult{}
			return
		}
		s, err := d.CMSs.Get(ctx, req.Destination.Platform, commonModelName)
		cmsCh <- cmsResult{s, err}
	}()

	secretOutcome := <-secretCh
	if secretOutcome.err != nil {
		return nil, d.wrapErr(secretOutcome.err, meta)
	}
	cmsOutcome := <-cmsCh
	if cmsOutcome.err != nil && commonModelName != "" {
		return nil, d.wrapErr(cmsOutcome.err, meta)
	}
	secret := secretOutcome.secret
	schema := cmsOutcome.schema

	// Step 2: inject id into secret when present.
	if pathID != "" {
		if secret == nil {
			secret = map[string]interface{}{}
		}
		secret["id"] = pathID
	}

	// Step 3: render request body through CMS from_common_model, strip nulls.
	renderedBody := req.Body
	if schema.FromCommonModel != "" {
		out, err := d.runScript(ctx, "cms:"+schema.ID.String(), "fromCommonModel", schema.FromCommonModel, req.Body)
		if err != nil {
			return nil, d.wrapErr(coreerrors.BadRequest(err.Error()), meta)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(out, &body); err == nil {
			renderedBody = body
		}
	}
	if renderedBody != nil {
		renderedBody = removeNulls(renderedBody).(map[string]interface{})
	}

	// Step 4: render the CRUD envelope through CMD from_common_model.
	headers := mergeStringMaps(map[string]string{}, req.Headers)
	query := mergeStringMaps(map[string]string{}, req.Query)
	pathParams := map[string]interface{}{}
	if pathID != "" {
		pathParams["id"] = pathID
	}

	if fwd, ok := query["passthroughForward"]; ok {
		query = mergeStringMaps(query, parsePassthroughForwardQuery(fwd))
		delete(query, "passthroughForward")
	}
	if fwd, ok := headers["x-integrationos-passthrough-forward"]; ok {
		headers = mergeStringMaps(headers, parsePassthroughForwardHeader(fwd))
	}

	if matchedCMD.Mapping != nil && matchedCMD.Mapping.FromCommonModel != "" {
		requestCrud := map[string]interface{}{
			"headers":     headers,
			"queryParams": query,
			"pathParams":  pathParams,
		}
		out, err := d.runScript(ctx, "cmd:"+matchedCMD.ID.String(), "fromCommonModel", matchedCMD.Mapping.FromCommonModel, requestCrud)
		if err != nil {
			return nil, d.wrapErr(coreerrors.BadRequest(err.Error()), meta)
		}
		var scriptResult struct {
			Headers     map[string]string      `json:"headers"`
			QueryParams map[string]string      `json:"queryParams"`
			PathParams  map[string]interface{}  `json:"pathParams"`
			Body        map[string]interface{}  `json:"body"`
		}
		if err := json.Unmarshal(out, &scriptResult); err == nil {
			headers = mergeStringMaps(headers, scriptResult.Headers)
			query = mergeStringMaps(query, scriptResult.QueryParams)
			for k, v := range scriptResult.PathParams {
				if secret == nil {
					secret = map[string]interface{}{}
				}
				secret[k] = v
			}
			if scriptResult.Body != nil {
				renderedBody = shallowMergeObjects(renderedBody, scriptResult.Body)
			}
		}
	}

	api, _ := matchedCMD.API()

	// Step 5: wrap body under request-object path when configured. The path
	// may nest arbitrarily deep ("$.body.data.attributes"), so it's set with
	// sjson rather than a single-level map wrap.
	bodyBytes, _ := json.Marshal(renderedBody)
	if api.Paths.RequestObject != "" {
		wrapped := unwrapBodyPath(api.Paths.RequestObject)
		if set, err := sjson.SetBytes([]byte(`{}`), wrapped, renderedBody); err == nil {
			bodyBytes = set
		}
	}

	// Step 6: render handlebars template against secret, execute the call.
	renderedPath := path
	if tpl, err := raymond.Render(path, secret); err == nil {
		renderedPath = tpl
	}

	callReq := callerclient.Request{
		Method:      matchedCMD.Action,
		BaseURL:     api.BaseURL,
		Path:        renderedPath,
		AuthMethod:  api.AuthMethod,
		Headers:     headers,
		QueryParams: query,
		Body:        bodyBytes,
	}

	conn, err := d.Connections.Get(ctx, connectionKey)
	if err != nil {
		return nil, d.wrapErr(err, meta)
	}
	if d.Limiter != nil && !d.Limiter.Allow(ctx, conn) {
		return nil, d.wrapErr(coreerrors.TooManyRequests("dispatcher: connection throughput limit exceeded"), meta)
	}

	resp, err := d.Caller.Do(ctx, callReq, conn)
	if err != nil {
		return nil, d.wrapErr(err, meta)
	}
	meta.LatencyMS = resp.LatencyMS

	// Step 7: non-2xx returns upstream verbatim, no response mappings.
	if !callerclient.IsSuccess(resp.StatusCode) {
		var upstream interface{}
		_ = json.Unmarshal(resp.Body, &upstream)
		meta.Hash = stableHash(upstream, meta.Action, commonModelName)
		return &Result{
			HTTPStatus:    resp.StatusCode,
			UpstreamError: &UpstreamErrorEnvelope{Upstream: upstream, Meta: meta},
		}, nil
	}

	// Step 8: parse JSON; select response object via JSONPath if configured.
	var parsedBody interface{}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &parsedBody); err != nil {
			return nil, d.wrapErr(coreerrors.DeserializeError(err), meta)
		}
	}

	selected := parsedBody
	if api.Paths.ResponseObject != "" {
		sel, err := selectExactlyOne(api.Paths.ResponseObject, map[string]interface{}{"body": parsedBody})
		if err != nil {
			if isEmptyMatch(err) && req.Environment != "production" && isReadAction(matchedCMD.ActionName) {
				return &Result{
					HTTPStatus: http.StatusUnprocessableEntity,
					Unprocessable: &UnprocessableEnvelope{
						Message:     "Could not map unified model, no response object found",
						Passthrough: map[string]interface{}{"body": parsedBody},
					},
				}, nil
			}
			return nil, d.wrapErr(err, meta)
		}
		selected = sel
	}

	var pagination *Pagination
	if matchedCMD.ActionName == cmd.ActionGetMany && matchedCMD.Mapping != nil && matchedCMD.Mapping.ToCommonModel != "" {
		cursor := map[string]interface{}{}
		if api.Paths.ResponseCursor != "" {
			if c, err := selectExactlyOne(api.Paths.ResponseCursor, map[string]interface{}{"body": parsedBody}); err == nil {
				if m, ok := c.(map[string]interface{}); ok {
					cursor = m
				}
			}
		}
		pagination = &Pagination{Cursor: cursor}
		if limitStr, ok := req.Query["limit"]; ok {
			if limit, err := strconv.Atoi(limitStr); err == nil {
				pagination.Limit = limit
			}
		}
	}

	// Step 10: run CMS to_common_model for read/write actions.
	var unified interface{} = selected
	if schema.ToCommonModel != "" && isUnifiedMappedAction(matchedCMD.ActionName) {
		unified, err = d.toCommonModel(ctx, schema, selected)
		if err != nil {
			return nil, d.wrapErr(err, meta)
		}
		if pagination != nil {
			if arr, ok := unified.([]interface{}); ok {
				pagination.PageSize = len(arr)
			}
		}
	} else if matchedCMD.ActionName == cmd.ActionUpdate || matchedCMD.ActionName == cmd.ActionDelete {
		// Step 11: discard body for update/delete.
		unified = nil
	}

	meta.Hash = stableHash(unified, meta.Action, commonModelName)

	var passthrough interface{}
	if req.IncludePassthrough {
		passthrough = parsedBody
	}

	return &Result{
		HTTPStatus: http.StatusOK,
		Envelope: &Envelope{
			Unified:     unified,
			Pagination:  pagination,
			Passthrough: passthrough,
			Meta:        meta,
		},
	}, nil
}

func (d *Dispatcher) toCommonModel(ctx context.Context, schema cms.CMS, selected interface{}) (interface{}, error) {
	arr, isArray := selected.([]interface{})
	if !isArray {
		return d.mapOne(ctx, schema, selected)
	}

	out := make([]interface{}, len(arr))
	for i, item := range arr {
		mapped, err := d.mapOne(ctx, schema, item)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
		// yield between items per §4.3 step 10.
	}
	return out, nil
}

func (d *Dispatcher) mapOne(ctx context.Context, schema cms.CMS, item interface{}) (interface{}, error) {
	out, err := d.runScript(ctx, "cms:"+schema.ID.String(), "toCommonModel", schema.ToCommonModel, item)
	if err != nil {
		return nil, coreerrors.BadRequest(err.Error())
	}
	var mapped map[string]interface{}
	if err := json.Unmarshal(out, &mapped); err != nil {
		return nil, coreerrors.DeserializeError(err)
	}
	if _, ok := mapped["modifyToken"]; !ok {
		if idVal, ok := mapped["id"]; ok {
			mapped["modifyToken"] = idVal
		} else {
			mapped["modifyToken"] = ""
		}
	}
	return removeNulls(mapped), nil
}

func (d *Dispatcher) runScript(ctx context.Context, namespace, kind, source string, arg interface{}) (json.RawMessage, error) {
	fnName := kind
	if err := d.Scripts.Load(namespace, fnName, source); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(arg)
	if err != nil {
		return nil, err
	}
	return d.Scripts.Call(ctx, namespace, fnName, payload)
}

func (d *Dispatcher) wrapErr(err error, meta Meta) error {
	ce := coreerrors.As(err)
	if ce == nil {
		return err
	}
	return ce.WithDetails("meta", meta)
}

func unwrapBodyPath(requestObject string) string {
	const prefix = "$.body."
	if len(requestObject) > len(prefix) && requestObject[:len(prefix)] == prefix {
		return requestObject[len(prefix):]
	}
	return requestObject
}

// multiMatchPath reports whether path can select more than one node (it
// contains a wildcard, recursive descent, or filter expression). A plain
// field-access path like "$.body.data" selects exactly one node even when
// that node's value is itself a JSON array.
func multiMatchPath(path string) bool {
	return strings.Contains(path, "*") || strings.Contains(path, "..") || strings.Contains(path, "[?")
}

func selectExactlyOne(path string, data interface{}) (interface{}, error) {
	results, err := jsonpath.Get(path, data)
	if err != nil {
		// A field-access path that doesn't resolve (missing key) is a zero
		// match, not a hard failure (§4.3 step 8 empty-match handling).
		return nil, emptyMatchError{path: path}
	}

	if !multiMatchPath(path) {
		return results, nil
	}

	arr, isArray := results.([]interface{})
	if !isArray {
		return results, nil
	}
	switch len(arr) {
	case 0:
		return nil, emptyMatchError{path: path}
	case 1:
		return arr[0], nil
	default:
		return nil, coreerrors.InvalidArgument(fmt.Sprintf("dispatcher: jsonpath %q matched more than once", path))
	}
}

type emptyMatchError struct{ path string }

func (e emptyMatchError) Error() string {
	return fmt.Sprintf("dispatcher: jsonpath %q matched nothing", e.path)
}

func isEmptyMatch(err error) bool {
	_, ok := err.(emptyMatchError)
	return ok
}

func isReadAction(action cmd.ActionName) bool {
	return action == cmd.ActionGetOne || action == cmd.ActionGetMany
}

func isUnifiedMappedAction(action cmd.ActionName) bool {
	switch action {
	case cmd.ActionGetOne, cmd.ActionGetMany, cmd.ActionCreate, cmd.ActionUpsert:
		return true
	default:
		return false
	}
}
