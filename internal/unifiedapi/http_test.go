package unifiedapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integration-core/core/internal/callerclient"
	"github.com/integration-core/core/internal/dispatcher"
	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/cms"
	"github.com/integration-core/core/internal/domain/connection"
	"github.com/integration-core/core/internal/domain/id"
	"github.com/integration-core/core/internal/scripthost"
)

type fakeCMDs struct {
	unifiedByKey map[string]cmd.CMD
	passthrough  []cmd.CMD
}

func (f fakeCMDs) PassthroughCandidates(ctx context.Context, platform, method string) ([]cmd.CMD, error) {
	return f.passthrough, nil
}

func (f fakeCMDs) Unified(ctx context.Context, platform, commonModelName, actionName string) (cmd.CMD, error) {
	return f.unifiedByKey[commonModelName+"::"+actionName], nil
}

type fakeCMSs struct{ schema cms.CMS }

func (f fakeCMSs) Get(ctx context.Context, platform, commonModelName string) (cms.CMS, error) {
	return f.schema, nil
}

type fakeSecrets struct{}

func (fakeSecrets) Get(ctx context.Context, connectionKey string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

type fakeConnections struct{ conn connection.Connection }

func (f fakeConnections) Get(ctx context.Context, connectionKey string) (connection.Connection, error) {
	return f.conn, nil
}

func newTestAPI(t *testing.T, upstreamURL string, cmds fakeCMDs, cmss fakeCMSs, conn connection.Connection) *API {
	t.Helper()
	d := &dispatcher.Dispatcher{
		CMDs:        cmds,
		CMSs:        cmss,
		Secrets:     fakeSecrets{},
		Connections: fakeConnections{conn: conn},
		Scripts:     scripthost.New(2),
		Caller:      callerclient.New(5*time.Second, nil),
		Host:        "test-host",
	}
	return New(Config{}, fakeConnections{conn: conn}, d, nil)
}

func TestUnified_GetOneRoutesThroughDispatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"cust_1","name":"Ada"}`))
	}))
	defer srv.Close()

	cmdDef := cmd.CMD{
		ID:         id.New(id.PrefixConnectionModel),
		Action:     http.MethodGet,
		ActionName: cmd.ActionGetOne,
		PlatformInfo: cmd.APIPlatformInfo{
			BaseURL: srv.URL,
			Path:    "/customers/:id",
		},
	}

	conn := connection.Connection{Platform: "stripe", Environment: connection.EnvironmentTest}
	api := newTestAPI(t, srv.URL, fakeCMDs{unifiedByKey: map[string]cmd.CMD{"Customer::getOne": cmdDef}}, fakeCMSs{}, conn)

	req := httptest.NewRequest(http.MethodGet, "/v1/unified/Customer/cust_1", nil)
	req.Header.Set(headerConnectionKey, "test::stripe::default")
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "200", rec.Header().Get(headerResponseStatus))
	assert.Contains(t, rec.Body.String(), `"unified"`)
}

func TestUnified_MissingConnectionKeyReturns400(t *testing.T) {
	api := newTestAPI(t, "http://example.invalid", fakeCMDs{}, fakeCMSs{}, connection.Connection{})

	req := httptest.NewRequest(http.MethodGet, "/v1/unified/Customer/cust_1", nil)
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnified_WrongTenantSecretReturns401(t *testing.T) {
	api := newTestAPI(t, "http://example.invalid", fakeCMDs{}, fakeCMSs{}, connection.Connection{})
	api.Config.TenantSecret = "s3cr3t"

	req := httptest.NewRequest(http.MethodGet, "/v1/unified/Customer/cust_1", nil)
	req.Header.Set(headerConnectionKey, "test::stripe::default")
	req.Header.Set(headerTenantSecret, "wrong")
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPassthrough_RoutesMethodAndPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	candidates := fakeCMDs{unifiedByKey: map[string]cmd.CMD{}, passthrough: []cmd.CMD{{
		ID:     id.New(id.PrefixConnectionModel),
		Action: http.MethodGet,
		PlatformInfo: cmd.APIPlatformInfo{
			BaseURL: srv.URL,
			Path:    "/v1/orders/:id",
		},
	}}}
	conn := connection.Connection{Platform: "stripe", Environment: connection.EnvironmentTest}
	api := newTestAPI(t, srv.URL, candidates, fakeCMSs{}, conn)

	req := httptest.NewRequest(http.MethodGet, "/v1/passthrough/stripe/v1/orders/42", nil)
	req.Header.Set(headerConnectionKey, "test::stripe::default")
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "/v1/orders/42", gotPath)
}
