package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/agent/telemetry"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

func noopHandler(context.Context, Call) (Result, error) { return Result{Value: "ok"}, nil }

const eventSchema = `{
	"type": "object",
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"attendees": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["summary"],
	"additionalProperties": false
}`

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry(telemetry.Noop())
	err := r.Register(t.Context(), Tool{
		Name:    "create_calendar_event",
		Schema:  json.RawMessage(eventSchema),
		Access:  Connected{Connection: auth.Connection{ID: "google-oauth2"}},
		Handler: noopHandler,
	})
	require.NoError(t, err)

	require.NoError(t, r.Validate("create_calendar_event", json.RawMessage(`{"summary":"standup"}`)))

	err = r.Validate("create_calendar_event", json.RawMessage(`{"attendees":[1]}`))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.NotEmpty(t, ve.Issues)
	require.Contains(t, ve.Error(), "create_calendar_event")

	err = r.Validate("create_calendar_event", json.RawMessage(`{not json`))
	require.ErrorAs(t, err, &ve)

	require.Error(t, r.Validate("missing", nil))
}

func TestMisconfiguredToolsAreDisabled(t *testing.T) {
	r := NewRegistry(telemetry.Noop())
	cases := []Tool{
		{Name: "bad name!", Access: Plain{}, Handler: noopHandler},
		{Name: "no_handler", Access: Plain{}},
		{Name: "no_access", Handler: noopHandler},
		{Name: "no_connection", Access: Connected{}, Handler: noopHandler},
		{Name: "no_binding", Access: Approval{Policy: ciba.Policy{}}, Handler: noopHandler},
		{Name: "bad_schema", Access: Plain{}, Handler: noopHandler, Schema: json.RawMessage(`[1]`)},
	}
	for _, tool := range cases {
		err := r.Register(t.Context(), tool)
		var ce *ConfigurationError
		require.ErrorAs(t, err, &ce, tool.Name)
		_, ok := r.Lookup(tool.Name)
		require.False(t, ok)
	}
	require.Len(t, r.Disabled(), len(cases))
	require.Empty(t, r.Definitions())
}

func TestDefinitionsSorted(t *testing.T) {
	r := NewRegistry(telemetry.Noop())
	require.NoError(t, r.Register(t.Context(), Tool{Name: "web_search", Access: Plain{}, Handler: noopHandler}))
	require.NoError(t, r.Register(t.Context(), Tool{Name: "calculator", Description: "math", Access: Plain{}, Handler: noopHandler}))
	require.Error(t, r.Register(t.Context(), Tool{Name: "calculator", Access: Plain{}, Handler: noopHandler}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	require.Equal(t, "calculator", defs[0].Name)
	require.Equal(t, "math", defs[0].Description)
	require.Equal(t, "object", defs[0].InputSchema["type"])
}

func TestCallDecodeAndResultText(t *testing.T) {
	call := Call{ID: "c1", Name: "calculator", ConversationID: "conv", Args: json.RawMessage(`{"expression":"1+1"}`)}
	var args struct {
		Expression string `json:"expression"`
	}
	require.NoError(t, call.Decode(&args))
	require.Equal(t, "1+1", args.Expression)
	require.Equal(t, "conv/c1", call.Key())

	txt, err := Result{Value: map[string]int{"result": 2}}.Text()
	require.NoError(t, err)
	require.JSONEq(t, `{"result":2}`, txt)
	txt, err = Result{Value: "plain"}.Text()
	require.NoError(t, err)
	require.Equal(t, "plain", txt)
}

func TestIdentValid(t *testing.T) {
	require.True(t, Ident("gmail_search").Valid())
	require.True(t, Ident("shop-online").Valid())
	require.False(t, Ident("google.gmail").Valid())
	require.False(t, Ident("").Valid())
}
