package controlapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integration-core/core/internal/domain/event"
)

type fakeEvents struct {
	byKey map[string]event.Event
}

func (f fakeEvents) Get(ctx context.Context, eventKey string) (event.Event, bool, error) {
	ev, ok := f.byKey[eventKey]
	return ev, ok, nil
}

type fakeQueue struct {
	pushed [][]byte
}

func (q *fakeQueue) Push(ctx context.Context, payload []byte) error {
	q.pushed = append(q.pushed, payload)
	return nil
}
func (q *fakeQueue) BlockingPop(ctx context.Context) ([]byte, error) { return nil, nil }
func (q *fakeQueue) Has(ctx context.Context, payload []byte) (bool, error) { return false, nil }

func signedToken(t *testing.T, secret []byte) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "gateway"})
	signed, err := tok.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestControlAPI_StatusRequiresBearerToken(t *testing.T) {
	secret := []byte("shared-control-secret")
	api := New(secret, fakeEvents{}, &fakeQueue{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, secret))
	rec = httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestControlAPI_RequeuePushesEventOntoQueue(t *testing.T) {
	secret := []byte("shared-control-secret")
	ev, err := event.New("test::stripe::default", "stripe.customer.created", nil, nil, "org_1")
	require.NoError(t, err)
	q := &fakeQueue{}
	api := New(secret, fakeEvents{byKey: map[string]event.Event{ev.ID.String(): ev}}, q, nil)

	req := httptest.NewRequest(http.MethodPost, "/events/"+ev.ID.String()+"/requeue", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, secret))
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.pushed, 1)
	assert.Contains(t, string(q.pushed[0]), ev.ID.String())
}

func TestControlAPI_RequeueUnknownEventReturns404(t *testing.T) {
	secret := []byte("shared-control-secret")
	api := New(secret, fakeEvents{}, &fakeQueue{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/events/missing/requeue", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, secret))
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
