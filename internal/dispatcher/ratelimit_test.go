package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integration-core/core/internal/callerclient"
	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/connection"
	"github.com/integration-core/core/internal/domain/id"
	coreerrors "github.com/integration-core/core/internal/errors"
	"github.com/integration-core/core/internal/ratelimit"
	"github.com/integration-core/core/internal/scripthost"
)

type throttledConnections struct{}

func (throttledConnections) Get(ctx context.Context, connectionKey string) (connection.Connection, error) {
	return connection.Connection{
		Key:        connectionKey,
		Throughput: connection.Throughput{Key: connectionKey, Limit: 1},
	}, nil
}

func TestUnifiedSend_ThroughputLimitExceededReturnsError(t *testing.T) {
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
			Path:    "/widgets/:id",
		},
	}

	d := &Dispatcher{
		CMDs:        fakeCMDs{unifiedByKey: map[string]cmd.CMD{"Widget::getOne": cmdDef}},
		CMSs:        fakeCMSs{},
		Secrets:     fakeSecrets{},
		Connections: throttledConnections{},
		Scripts:     scripthost.New(2),
		Caller:      callerclient.New(5*time.Second, nil),
		Limiter:     ratelimit.New(nil, ""),
		Host:        "test-host",
	}

	req := Request{
		Destination: Destination{
			Platform:      "acme",
			ConnectionKey: "test::acme::default",
			Action:        UnifiedAction{CommonModelName: "Widget", ActionName: "getOne", ID: "w_1"},
		},
		Environment: "test",
	}

	// First call consumes the connection's sole token.
	_, err := d.UnifiedSend(context.Background(), req)
	require.NoError(t, err)

	// Second call, immediately after, exceeds the per-connection cap.
	_, err = d.UnifiedSend(context.Background(), req)
	require.Error(t, err)
	ce := coreerrors.As(err)
	require.NotNil(t, ce)
	assert.Equal(t, http.StatusTooManyRequests, coreerrors.HTTPStatus(err))
}
