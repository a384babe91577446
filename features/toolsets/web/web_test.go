package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/features/toolsets/web"
	"github.com/assistant0/assistant0/runtime/agent/toolerrors"
	"github.com/assistant0/assistant0/runtime/agent/tools"
)

func TestNoToolWithoutAPIKey(t *testing.T) {
	require.Empty(t, web.Tools(web.Options{}))
}

func TestWebSearch(t *testing.T) {
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		assert.Equal(t, "/search.json", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"answer_box": {"answer": "Paris"},
			"organic_results": [
				{"title":"Paris - Wikipedia","link":"https://en.wikipedia.org/wiki/Paris","snippet":"Capital of France","position":1},
				{"title":"2","link":"l2"},{"title":"3","link":"l3"},{"title":"4","link":"l4"},
				{"title":"5","link":"l5"},{"title":"6","link":"l6"}
			]
		}`))
	}))
	defer srv.Close()

	ts := web.Tools(web.Options{APIKey: "serp-key", BaseURL: srv.URL})
	require.Len(t, ts, 1)
	require.Equal(t, tools.Plain{}, ts[0].Access)

	res, err := ts[0].Handler(context.Background(), tools.Call{Name: "web_search", Args: json.RawMessage(`{"q":"capital of france"}`)})
	require.NoError(t, err)
	require.Equal(t, []string{"google"}, query["engine"])
	require.Equal(t, []string{"serp-key"}, query["api_key"])
	require.Equal(t, []string{"capital of france"}, query["q"])

	txt, err := res.Text()
	require.NoError(t, err)
	var out struct {
		Answer  string             `json:"answer"`
		Results []web.SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(txt), &out))
	require.Equal(t, "Paris", out.Answer)
	require.Len(t, out.Results, 5)
	require.Equal(t, "Capital of France", out.Results[0].Snippet)
}

func TestWebSearchReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Invalid API key."}`))
	}))
	defer srv.Close()

	tl := web.Tools(web.Options{APIKey: "bad", BaseURL: srv.URL})[0]
	_, err := tl.Handler(context.Background(), tools.Call{Name: tl.Name, Args: json.RawMessage(`{"q":"x"}`)})
	var te *toolerrors.ToolError
	require.ErrorAs(t, err, &te)
	require.Contains(t, te.Error(), "Invalid API key.")
}
