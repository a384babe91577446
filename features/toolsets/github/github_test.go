package github_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/features/toolsets/github"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

func tokenCtx() context.Context {
	return credential.WithToken(context.Background(), credential.Token{
		Subject:     "auth0|alice",
		Connection:  "github",
		AccessToken: auth.NewSecret("gh-token"),
	})
}

func toolByName(t *testing.T, url string, name tools.Ident) tools.Tool {
	t.Helper()
	for _, tl := range github.Tools(github.Options{BaseURL: url}) {
		if tl.Name == name {
			return tl
		}
	}
	t.Fatalf("tool %s not found", name)
	return tools.Tool{}
}

func TestListRepositories(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(`[
			{"name":"assistant0","full_name":"alice/assistant0","private":true,"stargazers_count":3,"html_url":"https://github.com/alice/assistant0","owner":{"login":"alice"}}
		]`))
	}))
	defer srv.Close()

	tl := toolByName(t, srv.URL, "list_github_repositories")
	res, err := tl.Handler(tokenCtx(), tools.Call{Name: tl.Name, Args: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.Equal(t, "/user/repos", got.URL.Path)
	require.Equal(t, "all", got.URL.Query().Get("visibility"))
	require.Equal(t, "Bearer gh-token", got.Header.Get("Authorization"))
	require.Equal(t, "application/vnd.github+json", got.Header.Get("Accept"))

	txt, err := res.Text()
	require.NoError(t, err)
	var out struct {
		Total int                 `json:"total_repositories"`
		Repos []github.Repository `json:"repositories"`
	}
	require.NoError(t, json.Unmarshal([]byte(txt), &out))
	require.Equal(t, 1, out.Total)
	require.Equal(t, "alice/assistant0", out.Repos[0].FullName)
	require.True(t, out.Repos[0].Private)
	require.NotContains(t, txt, "owner")
}

func TestListEventsResolvesLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"login":"alice"}`))
	})
	mux.HandleFunc("/users/alice/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"1","type":"PushEvent","repo":{"name":"alice/assistant0"},"created_at":"2026-10-17T12:00:00Z"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tl := toolByName(t, srv.URL, "list_github_events")
	res, err := tl.Handler(tokenCtx(), tools.Call{Name: tl.Name, Args: json.RawMessage(`{"limit":5}`)})
	require.NoError(t, err)
	txt, err := res.Text()
	require.NoError(t, err)
	require.JSONEq(t, `{"login":"alice","count":1,"events":[{"id":"1","type":"PushEvent","repo":"alice/assistant0","created_at":"2026-10-17T12:00:00Z"}]}`, txt)
}

func TestRevokedTokenIsRejectedCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	tl := toolByName(t, srv.URL, "list_github_repositories")
	_, err := tl.Handler(tokenCtx(), tools.Call{Name: tl.Name})
	ue, ok := credential.RejectedCredential(err)
	require.True(t, ok)
	require.Equal(t, "github", ue.Service)
	require.Equal(t, http.StatusUnauthorized, ue.Status)
}

func TestToolsUseGitHubConnection(t *testing.T) {
	for _, tl := range github.Tools(github.Options{}) {
		conn, ok := tl.Access.(tools.Connected)
		require.True(t, ok)
		require.Equal(t, "github", conn.Connection.ID)
	}
}
