// Package web exposes a web search tool backed by SerpAPI.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/assistant0/assistant0/features/toolsets/internal/rest"
	"github.com/assistant0/assistant0/runtime/agent/toolerrors"
	"github.com/assistant0/assistant0/runtime/agent/tools"
)

// Toolset is the name tools of this package are grouped under.
const Toolset = "web"

const (
	defaultBaseURL = "https://serpapi.com"
	maxResults     = 5

	webSearchSchema = `{
  "type": "object",
  "properties": {
    "q": {"type": "string", "minLength": 1, "description": "The search query."}
  },
  "required": ["q"],
  "additionalProperties": false
}`
)

// Options configures the toolset.
type Options struct {
	// APIKey is the SerpAPI key. No tool is returned when it is empty.
	APIKey string
	// BaseURL overrides https://serpapi.com.
	BaseURL string
	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
}

type (
	// SearchResult is one organic result returned to the model.
	SearchResult struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet,omitempty"`
	}

	serpResponse struct {
		Error     string `json:"error"`
		AnswerBox *struct {
			Answer  string `json:"answer"`
			Snippet string `json:"snippet"`
			Title   string `json:"title"`
		} `json:"answer_box"`
		OrganicResults []SearchResult `json:"organic_results"`
	}
)

type toolset struct {
	api *rest.Client
	key string
}

// Tools returns the web tools, or none when no API key is configured.
func Tools(opts Options) []tools.Tool {
	if opts.APIKey == "" {
		return nil
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	ts := &toolset{
		api: &rest.Client{
			Service: "serpapi",
			BaseURL: base,
			HTTP:    func(context.Context) (*http.Client, error) { return hc, nil },
		},
		key: opts.APIKey,
	}
	return []tools.Tool{{
		Name:        "web_search",
		Toolset:     Toolset,
		Description: "Search the web for current events and facts the assistant does not know.",
		Schema:      json.RawMessage(webSearchSchema),
		Access:      tools.Plain{},
		Handler:     ts.search,
	}}
}

func (ts *toolset) search(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Q string `json:"q"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	if strings.TrimSpace(args.Q) == "" {
		return tools.Result{}, toolerrors.New("The search query is empty.")
	}
	q := url.Values{"engine": {"google"}, "q": {args.Q}, "api_key": {ts.key}}
	var resp serpResponse
	if err := ts.api.Get(ctx, "/search.json", q, &resp); err != nil {
		return tools.Result{}, toolerrors.Wrap("Web search failed.", err)
	}
	if resp.Error != "" {
		return tools.Result{}, toolerrors.Errorf("Web search failed: %s", resp.Error)
	}
	out := map[string]any{}
	if ab := resp.AnswerBox; ab != nil {
		answer := ab.Answer
		if answer == "" {
			answer = ab.Snippet
		}
		if answer != "" {
			out["answer"] = answer
		}
	}
	results := resp.OrganicResults
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if results == nil {
		results = []SearchResult{}
	}
	out["results"] = results
	return tools.Result{Value: out}, nil
}
