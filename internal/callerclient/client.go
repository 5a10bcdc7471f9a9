// Package callerclient builds and executes the outgoing HTTP call described
// by a rendered CMD's API platform info, applying the connection's auth
// method and refreshing an expired OAuth token before the call (§4.4). It
// performs no retries: retry policy lives in the pipeline engine.
package callerclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/connection"
	coreerrors "github.com/integration-core/core/internal/errors"
)

// Request is everything needed to build and execute one outgoing call.
// OAuthToken is the connection's current access token, resolved by the
// caller (dispatcher) from the connection's secret before the call.
type Request struct {
	Method      string
	BaseURL     string
	Path        string
	AuthMethod  cmd.AuthMethod
	Headers     map[string]string
	QueryParams map[string]string
	Body        []byte
	OAuthToken  string
}

// Response is the normalized outcome of executing a Request. RefreshedToken
// is set when the OAuth token had expired and was refreshed mid-call; the
// caller is responsible for persisting it to the store and cache (§4.4).
type Response struct {
	StatusCode     int
	Headers        http.Header
	Body           []byte
	LatencyMS      int64
	RefreshedToken *string
}

// TokenRefresher exchanges an expiring OAuth token for a fresh one. The
// caller (pipeline/dispatcher wiring) owns persisting the refreshed secret
// back to the store and cache — this package only asks for a usable token.
type TokenRefresher interface {
	Refresh(ctx context.Context, conn connection.Connection) (accessToken string, err error)
}

// Client executes Requests over a shared *http.Client.
type Client struct {
	http      *http.Client
	refresher TokenRefresher
}

// New builds a Client with the given timeout and OAuth refresher.
func New(timeout time.Duration, refresher TokenRefresher) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		refresher: refresher,
	}
}

// Do executes req, refreshing the connection's OAuth token first if it has
// expired. conn is only consulted when req.AuthMethod is cmd.AuthMethodOAuth.
func (c *Client) Do(ctx context.Context, req Request, conn connection.Connection) (*Response, error) {
	httpReq, refreshed, err := c.build(ctx, req, conn)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, coreerrors.ConnectionError("caller: upstream request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerrors.IoErr(err)
	}

	return &Response{
		StatusCode:     resp.StatusCode,
		Headers:        resp.Header,
		Body:           body,
		LatencyMS:      latency,
		RefreshedToken: refreshed,
	}, nil
}

func (c *Client) build(ctx context.Context, req Request, conn connection.Connection) (*http.Request, *string, error) {
	full, err := url.Parse(req.BaseURL)
	if err != nil {
		return nil, nil, coreerrors.InvalidArgument("caller: invalid base url")
	}
	full.Path = full.Path + req.Path

	if len(req.QueryParams) > 0 {
		q := full.Query()
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		full.RawQuery = q.Encode()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, full.String(), bodyReader)
	if err != nil {
		return nil, nil, coreerrors.InvalidArgument("caller: could not construct request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	refreshed, err := c.applyAuth(ctx, httpReq, req, conn)
	if err != nil {
		return nil, nil, err
	}
	return httpReq, refreshed, nil
}

func (c *Client) applyAuth(ctx context.Context, httpReq *http.Request, req Request, conn connection.Connection) (*string, error) {
	switch a := req.AuthMethod.(type) {
	case cmd.AuthMethodNone, nil:
		return nil, nil
	case cmd.AuthMethodBearerToken:
		httpReq.Header.Set("Authorization", "Bearer "+a.Value)
		return nil, nil
	case cmd.AuthMethodApiKey:
		httpReq.Header.Set(a.Key, a.Value)
		return nil, nil
	case cmd.AuthMethodBasicAuth:
		httpReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password)))
		return nil, nil
	case cmd.AuthMethodOAuth:
		return c.applyOAuth(ctx, httpReq, req, conn)
	default:
		return nil, coreerrors.InvalidArgument("caller: unknown auth method")
	}
}

func (c *Client) applyOAuth(ctx context.Context, httpReq *http.Request, req Request, conn connection.Connection) (*string, error) {
	enabled, ok := conn.OAuth.(connection.OAuthEnabled)
	if !ok {
		return nil, coreerrors.ConfigurationError("caller: connection is not OAuth-enabled", nil)
	}

	token := req.OAuthToken
	var refreshed *string
	if enabled.Expired(time.Now()) {
		if c.refresher == nil {
			return nil, coreerrors.ConfigurationError("caller: oauth token expired and no refresher configured", nil)
		}
		fresh, err := c.refresher.Refresh(ctx, conn)
		if err != nil {
			return nil, coreerrors.ConnectionError("caller: oauth refresh failed", err)
		}
		token = fresh
		refreshed = &fresh
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	return refreshed, nil
}

// ParseJSON unmarshals resp.Body, returning a DeserializeError on failure.
func ParseJSON(resp *Response, out interface{}) error {
	if len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return coreerrors.DeserializeError(err)
	}
	return nil
}

// IsSuccess reports whether status is a 2xx.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
