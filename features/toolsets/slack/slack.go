// Package slack exposes the user's Slack workspace to the model through the
// Slack connection, using the Slack Web API client.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

// Toolset is the name tools of this package are grouped under.
const Toolset = "slack"

const (
	service           = "slack"
	defaultChannelMax = 10

	listChannelsSchema = `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 1, "maximum": 200}
  },
  "additionalProperties": false
}`
)

// Options configures the toolset.
type Options struct {
	// Catalog resolves the Slack connection. Defaults to auth.DefaultCatalog.
	Catalog *auth.Catalog
	// APIURL overrides the Slack Web API root. It must end with a slash.
	APIURL string
}

// Channel is the simplified channel shape returned to the model.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Private   bool   `json:"private"`
	Members   int    `json:"members"`
	Topic     string `json:"topic,omitempty"`
	Purpose   string `json:"purpose,omitempty"`
	IsGeneral bool   `json:"is_general,omitempty"`
}

type toolset struct {
	apiURL string
}

// Tools returns the Slack tools.
func Tools(opts Options) []tools.Tool {
	cat := auth.DefaultCatalog()
	if opts.Catalog != nil {
		cat = *opts.Catalog
	}
	conn, _ := cat.Lookup(auth.ConnSlack)
	ts := &toolset{apiURL: opts.APIURL}
	return []tools.Tool{{
		Name:        "list_slack_channels",
		Toolset:     Toolset,
		Description: "List the public and private Slack channels the user can see, excluding archived ones.",
		Schema:      json.RawMessage(listChannelsSchema),
		Access:      tools.Connected{Connection: conn},
		Handler:     ts.listChannels,
	}}
}

func (ts *toolset) client(ctx context.Context) (*slack.Client, error) {
	tok, err := credential.TokenFromContext(ctx)
	if err != nil {
		return nil, err
	}
	hc, err := credential.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	opts := []slack.Option{slack.OptionHTTPClient(hc)}
	if ts.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(ts.apiURL))
	}
	return slack.New(tok.AccessToken.Reveal(), opts...), nil
}

func (ts *toolset) listChannels(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Limit int `json:"limit"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	if args.Limit == 0 {
		args.Limit = defaultChannelMax
	}
	api, err := ts.client(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	chans, _, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Types:           []string{"public_channel", "private_channel"},
		Limit:           args.Limit,
	})
	if err != nil {
		return tools.Result{}, translateError(err)
	}
	out := make([]Channel, 0, len(chans))
	for _, c := range chans {
		out = append(out, Channel{
			ID:        c.ID,
			Name:      c.Name,
			Private:   c.IsPrivate,
			Members:   c.NumMembers,
			Topic:     c.Topic.Value,
			Purpose:   c.Purpose.Value,
			IsGeneral: c.IsGeneral,
		})
	}
	return tools.Result{Value: map[string]any{"count": len(out), "channels": out}}, nil
}

// translateError maps Slack API error codes that mean the delegated token is
// unusable to 401/403 upstream errors.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var sce slack.StatusCodeError
	if errors.As(err, &sce) {
		return &credential.UpstreamError{Service: service, Status: sce.Code, Message: sce.Status, Cause: err}
	}
	code := err.Error()
	var ser slack.SlackErrorResponse
	if errors.As(err, &ser) {
		code = ser.Err
	}
	ue := &credential.UpstreamError{Service: service, Code: code, Message: code, Cause: err}
	switch strings.TrimSpace(code) {
	case "invalid_auth", "not_authed", "token_revoked", "token_expired", "account_inactive":
		ue.Status = http.StatusUnauthorized
	case "missing_scope", "no_permission":
		ue.Status = http.StatusForbidden
	}
	return ue
}
