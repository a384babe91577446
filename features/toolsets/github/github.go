// Package github exposes the user's GitHub repositories and activity to the
// model through the GitHub connection.
package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/assistant0/assistant0/features/toolsets/internal/rest"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
)

// Toolset is the name tools of this package are grouped under.
const Toolset = "github"

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"

	listReposSchema = `{
  "type": "object",
  "properties": {
    "visibility": {"type": "string", "enum": ["all", "public", "private"]}
  },
  "additionalProperties": false
}`

	listEventsSchema = `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 1, "maximum": 100}
  },
  "additionalProperties": false
}`

	defaultEventCount = 30
)

// Options configures the toolset.
type Options struct {
	// Catalog resolves the GitHub connection. Defaults to
	// auth.DefaultCatalog.
	Catalog *auth.Catalog
	// BaseURL overrides https://api.github.com.
	BaseURL string
}

type (
	// Repository is the simplified repository shape returned to the model.
	Repository struct {
		Name        string `json:"name"`
		FullName    string `json:"full_name"`
		Description string `json:"description,omitempty"`
		Private     bool   `json:"private"`
		Language    string `json:"language,omitempty"`
		Stars       int    `json:"stargazers_count"`
		Forks       int    `json:"forks_count"`
		URL         string `json:"html_url"`
		UpdatedAt   string `json:"updated_at,omitempty"`
	}

	// Event is the simplified activity event returned to the model.
	Event struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Repo      string `json:"repo"`
		CreatedAt string `json:"created_at"`
	}

	ghEvent struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Repo struct {
			Name string `json:"name"`
		} `json:"repo"`
		CreatedAt string `json:"created_at"`
	}
)

type toolset struct {
	api *rest.Client
}

// Tools returns the GitHub tools.
func Tools(opts Options) []tools.Tool {
	cat := auth.DefaultCatalog()
	if opts.Catalog != nil {
		cat = *opts.Catalog
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	ts := &toolset{api: &rest.Client{
		Service: "github",
		BaseURL: base,
		Header: http.Header{
			"Accept":               {"application/vnd.github+json"},
			"X-Github-Api-Version": {apiVersion},
		},
	}}
	conn, _ := cat.Lookup(auth.ConnGitHub)
	return []tools.Tool{
		{
			Name:        "list_github_repositories",
			Toolset:     Toolset,
			Description: "List the GitHub repositories the user owns or collaborates on.",
			Schema:      json.RawMessage(listReposSchema),
			Access:      tools.Connected{Connection: conn},
			Handler:     ts.listRepositories,
		},
		{
			Name:        "list_github_events",
			Toolset:     Toolset,
			Description: "List the user's recent public GitHub activity such as pushes, issues and pull requests.",
			Schema:      json.RawMessage(listEventsSchema),
			Access:      tools.Connected{Connection: conn},
			Handler:     ts.listEvents,
		},
	}
}

func (ts *toolset) listRepositories(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Visibility string `json:"visibility"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	if args.Visibility == "" {
		args.Visibility = "all"
	}
	var repos []Repository
	q := url.Values{"visibility": {args.Visibility}, "sort": {"updated"}, "per_page": {"100"}}
	if err := ts.api.Get(ctx, "/user/repos", q, &repos); err != nil {
		return tools.Result{}, err
	}
	if repos == nil {
		repos = []Repository{}
	}
	return tools.Result{Value: map[string]any{
		"total_repositories": len(repos),
		"repositories":       repos,
	}}, nil
}

func (ts *toolset) listEvents(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	if args.Limit == 0 {
		args.Limit = defaultEventCount
	}
	var user struct {
		Login string `json:"login"`
	}
	if err := ts.api.Get(ctx, "/user", nil, &user); err != nil {
		return tools.Result{}, err
	}
	var raw []ghEvent
	q := url.Values{"per_page": {strconv.Itoa(args.Limit)}}
	if err := ts.api.Get(ctx, "/users/"+url.PathEscape(user.Login)+"/events", q, &raw); err != nil {
		return tools.Result{}, err
	}
	events := make([]Event, 0, len(raw))
	for _, e := range raw {
		events = append(events, Event{ID: e.ID, Type: e.Type, Repo: e.Repo.Name, CreatedAt: e.CreatedAt})
	}
	return tools.Result{Value: map[string]any{
		"login":  user.Login,
		"count":  len(events),
		"events": events,
	}}, nil
}
