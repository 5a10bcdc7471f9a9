package pipelineconfig

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/integration-core/core/internal/domain/accesskey"
	"github.com/integration-core/core/internal/domain/event"
)

func TestStaticResolver_Verify(t *testing.T) {
	secret := []byte("01234567890123456789012345678901")
	raw, err := accesskey.Encode(accesskey.AccessKey{
		Environment: accesskey.EnvironmentTest,
		EventType:   accesskey.EventTypeSecretKey,
		Version:     "v1",
		Data:        accesskey.Data{ID: "acct", Group: "g"},
	}, secret)
	require.NoError(t, err)

	r := NewStaticResolver(secret, nil, time.Second)

	ev, err := event.New(raw, "order.created", nil, nil, "g")
	require.NoError(t, err)

	ok, err := r.Verify(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, ok)

	bad := ev
	bad.AccessKey = "garbage"
	ok, err = r.Verify(context.Background(), bad)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStaticResolver_Resolve_RunsExtractorAndDestination(t *testing.T) {
	extractorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"extracted":true}`))
	}))
	defer extractorSrv.Close()

	destSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"delivered":true}`))
	}))
	defer destSrv.Close()

	r := NewStaticResolver(nil, map[string][]PipelineSpec{
		"order.created": {
			{
				Key: "p1",
				Extractors: []ExtractorSpec{
					{Key: "e1", Method: http.MethodGet, URL: extractorSrv.URL},
				},
				Destination: DestinationSpec{Method: http.MethodPost, URL: destSrv.URL},
			},
		},
	}, time.Second)

	ctx := context.Background()
	ev, err := event.New("ak", "order.created", nil, nil, "g")
	require.NoError(t, err)

	defs, err := r.Resolve(ctx, ev)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "p1", defs[0].Key)
	require.Len(t, defs[0].Extractors, 1)

	out, err := defs[0].Extractors[0].Runner.Run(ctx, "e1", nil)
	require.NoError(t, err)
	var decoded map[string]bool
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.True(t, decoded["extracted"])

	out, err = defs[0].Destination.Call(ctx, ev, nil)
	require.NoError(t, err)
	decoded = nil
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.True(t, decoded["delivered"])

	// unmatched event name resolves to no pipelines.
	other, err := event.New("ak", "unknown.event", nil, nil, "g")
	require.NoError(t, err)
	defs, err = r.Resolve(ctx, other)
	require.NoError(t, err)
	require.Empty(t, defs)
}
