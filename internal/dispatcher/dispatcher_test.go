package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integration-core/core/internal/callerclient"
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

type fakeCMSs struct {
	schema cms.CMS
}

func (f fakeCMSs) Get(ctx context.Context, platform, commonModelName string) (cms.CMS, error) {
	return f.schema, nil
}

type fakeSecrets struct{}

func (fakeSecrets) Get(ctx context.Context, connectionKey string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

type fakeConnections struct{}

func (fakeConnections) Get(ctx context.Context, connectionKey string) (connection.Connection, error) {
	return connection.Connection{Key: connectionKey}, nil
}

func newDispatcher(t *testing.T, baseURL string, cmds fakeCMDs, cmss fakeCMSs) *Dispatcher {
	t.Helper()
	return &Dispatcher{
		CMDs:        cmds,
		CMSs:        cmss,
		Secrets:     fakeSecrets{},
		Connections: fakeConnections{},
		Scripts:     scripthost.New(2),
		Caller:      callerclient.New(5*time.Second, nil),
		Host:        "test-host",
	}
}


func TestUnifiedSend_GetManyWithPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[{"i":"inv_1","a":100}],"has_more":true}`))
	}))
	defer srv.Close()

	cmdDef := cmd.CMD{
		ID:         id.New(id.PrefixConnectionModel),
		Action:     http.MethodGet,
		ActionName: cmd.ActionGetMany,
		PlatformInfo: cmd.APIPlatformInfo{
			BaseURL: srv.URL,
			Path:    "/invoices",
			Paths: cmd.Paths{
				ResponseObject: "$.body.data",
				ResponseCursor: "$.body.has_more",
			},
		},
		Mapping: &cmd.Mapping{
			CommonModelName: "Invoice",
			ToCommonModel:   "return { id: arg.i, amount: arg.a }",
		},
	}

	schema := cms.CMS{ID: id.New(id.PrefixConnectionModel), ToCommonModel: "return { id: arg.i, amount: arg.a }"}

	d := newDispatcher(t, srv.URL, fakeCMDs{unifiedByKey: map[string]cmd.CMD{"Invoice::getMany": cmdDef}}, fakeCMSs{schema: schema})

	result, err := d.UnifiedSend(context.Background(), Request{
		Destination: Destination{
			Platform:      "stripe",
			ConnectionKey: "test::stripe::default",
			Action:        UnifiedAction{CommonModelName: "Invoice", ActionName: "getMany"},
		},
		Environment: "test",
		Query:       map[string]string{"limit": "25"},
	})

	require.NoError(t, err)
	require.NotNil(t, result.Envelope)
	assert.Equal(t, http.StatusOK, result.HTTPStatus)

	unified, ok := result.Envelope.Unified.([]interface{})
	require.True(t, ok)
	require.Len(t, unified, 1)
	item := unified[0].(map[string]interface{})
	assert.Equal(t, "inv_1", item["id"])
	assert.EqualValues(t, 100, item["amount"])
	assert.Equal(t, "inv_1", item["modifyToken"])

	require.NotNil(t, result.Envelope.Pagination)
	assert.Equal(t, 25, result.Envelope.Pagination.Limit)
	assert.Equal(t, 1, result.Envelope.Pagination.PageSize)
	assert.Equal(t, "getMany", result.Envelope.Meta.Action)
}

func TestUnifiedSend_GetOneEmptyBodyReturns422InNonProduction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cmdDef := cmd.CMD{
		ID:         id.New(id.PrefixConnectionModel),
		Action:     http.MethodGet,
		ActionName: cmd.ActionGetOne,
		PlatformInfo: cmd.APIPlatformInfo{
			BaseURL: srv.URL,
			Path:    "/invoices/:id",
			Paths:   cmd.Paths{ResponseObject: "$.body.invoice"},
		},
	}

	d := newDispatcher(t, srv.URL, fakeCMDs{unifiedByKey: map[string]cmd.CMD{"Invoice::getOne": cmdDef}}, fakeCMSs{})

	result, err := d.UnifiedSend(context.Background(), Request{
		Destination: Destination{
			Platform:      "stripe",
			ConnectionKey: "test::stripe::default",
			Action:        UnifiedAction{CommonModelName: "Invoice", ActionName: "getOne", ID: "inv_1"},
		},
		Environment: "test",
	})

	require.NoError(t, err)
	require.NotNil(t, result.Unprocessable)
	assert.Equal(t, http.StatusUnprocessableEntity, result.HTTPStatus)

	passthrough, ok := result.Unprocessable.Passthrough.(map[string]interface{})
	require.True(t, ok)
	body, ok := passthrough["body"].(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, body)
}

func TestUnifiedSend_PassthroughAmbiguousRouteIsRejected(t *testing.T) {
	candidates := []cmd.CMD{
		{PlatformInfo: cmd.APIPlatformInfo{Path: "/v1/orders/:id"}},
		{PlatformInfo: cmd.APIPlatformInfo{Path: "/v1/orders/{{oid}}"}},
	}

	d := newDispatcher(t, "http://example.invalid", fakeCMDs{passthrough: candidates}, fakeCMSs{})

	_, err := d.UnifiedSend(context.Background(), Request{
		Destination: Destination{
			Platform:      "stripe",
			ConnectionKey: "test::stripe::default",
			Action:        PassthroughAction{Method: http.MethodGet, Path: "/v1/orders/42"},
		},
		Environment: "test",
	})

	require.Error(t, err)
}

func TestUnifiedSend_UpstreamNonSuccessReturnsVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request upstream"}`))
	}))
	defer srv.Close()

	cmdDef := cmd.CMD{
		ID:         id.New(id.PrefixConnectionModel),
		Action:     http.MethodGet,
		ActionName: cmd.ActionGetOne,
		PlatformInfo: cmd.APIPlatformInfo{
			BaseURL: srv.URL,
			Path:    "/invoices/:id",
		},
	}

	d := newDispatcher(t, srv.URL, fakeCMDs{unifiedByKey: map[string]cmd.CMD{"Invoice::getOne": cmdDef}}, fakeCMSs{})

	result, err := d.UnifiedSend(context.Background(), Request{
		Destination: Destination{
			Platform:      "stripe",
			ConnectionKey: "test::stripe::default",
			Action:        UnifiedAction{CommonModelName: "Invoice", ActionName: "getOne", ID: "inv_1"},
		},
		Environment: "test",
	})

	require.NoError(t, err)
	require.NotNil(t, result.UpstreamError)
	assert.Equal(t, http.StatusBadRequest, result.HTTPStatus)

	upstream, ok := result.UpstreamError.Upstream.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "bad request upstream", upstream["error"])
}

func TestUnifiedSend_NestedRequestObjectWrapsBody(t *testing.T) {
	var receivedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cmdDef := cmd.CMD{
		ID:         id.New(id.PrefixConnectionModel),
		Action:     http.MethodPost,
		ActionName: cmd.ActionCreate,
		PlatformInfo: cmd.APIPlatformInfo{
			BaseURL: srv.URL,
			Path:    "/customers",
			Paths:   cmd.Paths{RequestObject: "$.body.data.attributes"},
		},
	}

	d := newDispatcher(t, srv.URL, fakeCMDs{unifiedByKey: map[string]cmd.CMD{"Customer::create": cmdDef}}, fakeCMSs{})

	_, err := d.UnifiedSend(context.Background(), Request{
		Destination: Destination{
			Platform:      "stripe",
			ConnectionKey: "test::stripe::default",
			Action:        UnifiedAction{CommonModelName: "Customer", ActionName: "create"},
		},
		Environment: "test",
		Body:        map[string]interface{}{"name": "Ada"},
	})
	require.NoError(t, err)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(receivedBody, &sent))
	data, ok := sent["data"].(map[string]interface{})
	require.True(t, ok)
	attrs, ok := data["attributes"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Ada", attrs["name"])
}

func TestRemoveNulls_Idempotent(t *testing.T) {
	var v interface{} = map[string]interface{}{"a": nil, "b": map[string]interface{}{"c": nil, "d": 1}}
	once := removeNulls(v)
	b, _ := json.Marshal(once)
	twice := removeNulls(once)
	b2, _ := json.Marshal(twice)
	assert.JSONEq(t, string(b), string(b2))
}
