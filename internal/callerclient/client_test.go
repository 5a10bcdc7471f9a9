package callerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/integration-core/core/internal/domain/cmd"
	"github.com/integration-core/core/internal/domain/connection"
)

func TestDo_BearerTokenAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	resp, err := c.Do(context.Background(), Request{
		Method:     http.MethodGet,
		BaseURL:    srv.URL,
		Path:       "/things",
		AuthMethod: cmd.AuthMethodBearerToken{Value: "tok123"},
	}, connection.Connection{})

	require.NoError(t, err)
	assert.True(t, IsSuccess(resp.StatusCode))
}

func TestDo_ApiKeyAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-val", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	_, err := c.Do(context.Background(), Request{
		Method:     http.MethodGet,
		BaseURL:    srv.URL,
		AuthMethod: cmd.AuthMethodApiKey{Key: "X-Api-Key", Value: "secret-val"},
	}, connection.Connection{})
	require.NoError(t, err)
}

func TestDo_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "hunter2", pass)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	_, err := c.Do(context.Background(), Request{
		Method:     http.MethodGet,
		BaseURL:    srv.URL,
		AuthMethod: cmd.AuthMethodBasicAuth{Username: "alice", Password: "hunter2"},
	}, connection.Connection{})
	require.NoError(t, err)
}

type fakeRefresher struct {
	token string
}

func (f fakeRefresher) Refresh(ctx context.Context, conn connection.Connection) (string, error) {
	return f.token, nil
}

func TestDo_OAuthRefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(5*time.Second, fakeRefresher{token: "fresh-token"})
	conn := connection.Connection{
		OAuth: connection.OAuthEnabled{ExpiresAt: time.Now().Add(-time.Hour)},
	}

	resp, err := c.Do(context.Background(), Request{
		Method:     http.MethodGet,
		BaseURL:    srv.URL,
		AuthMethod: cmd.AuthMethodOAuth{},
		OAuthToken: "stale-token",
	}, conn)

	require.NoError(t, err)
	require.NotNil(t, resp.RefreshedToken)
	assert.Equal(t, "fresh-token", *resp.RefreshedToken)
}

func TestDo_OAuthUsesCurrentTokenWhenNotExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer still-good", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(5*time.Second, nil)
	conn := connection.Connection{
		OAuth: connection.OAuthEnabled{ExpiresAt: time.Now().Add(time.Hour)},
	}

	resp, err := c.Do(context.Background(), Request{
		Method:     http.MethodGet,
		BaseURL:    srv.URL,
		AuthMethod: cmd.AuthMethodOAuth{},
		OAuthToken: "still-good",
	}, conn)

	require.NoError(t, err)
	assert.Nil(t, resp.RefreshedToken)
}

func TestDo_NonOAuthConnectionWithOAuthMethodErrors(t *testing.T) {
	c := New(5*time.Second, nil)
	_, err := c.Do(context.Background(), Request{
		Method:     http.MethodGet,
		BaseURL:    "http://example.invalid",
		AuthMethod: cmd.AuthMethodOAuth{},
	}, connection.Connection{OAuth: connection.OAuthDisabled{}})
	assert.Error(t, err)
}
