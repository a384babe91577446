package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

func withToken(ctx context.Context, value string) context.Context {
	return credential.WithToken(ctx, credential.Token{
		Subject:     "auth0|alice",
		Connection:  "google-oauth2",
		AccessToken: auth.NewSecret(value),
		TokenType:   "Bearer",
	})
}

func TestGetSendsDelegatedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.Equal(t, "/v1/items", r.URL.Path)
		require.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":["a","b"]}`))
	}))
	defer srv.Close()

	c := &Client{Service: "vendor", BaseURL: srv.URL + "/v1"}
	var out struct {
		Items []string `json:"items"`
	}
	err := c.Get(withToken(context.Background(), "tok-1"), "/items", url.Values{"limit": {"5"}}, &out)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out.Items)
}

func TestRejectedTokenIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &Client{Service: "vendor", BaseURL: srv.URL}
	err := c.Post(withToken(context.Background(), "stale"), "/things", map[string]string{"a": "b"}, nil)
	ue, ok := credential.RejectedCredential(err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, ue.Status)
}

func TestMissingTokenFailsBeforeRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c := &Client{Service: "vendor", BaseURL: srv.URL}
	err := c.Get(context.Background(), "/", nil, nil)
	require.ErrorIs(t, err, credential.ErrNoToken)
	require.False(t, called)
}

func TestCustomHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		require.Equal(t, "demo", r.Header.Get("X-Api-Key"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := &Client{
		Service: "vendor",
		BaseURL: srv.URL,
		HTTP:    func(context.Context) (*http.Client, error) { return srv.Client(), nil },
		Header:  http.Header{"X-Api-Key": {"demo"}},
	}
	var out map[string]any
	require.NoError(t, c.Get(context.Background(), "/", nil, &out))
	require.Nil(t, out)
}
