// Package tools defines the tools exposed to the model, their authorization
// requirements and the registry that validates and advertises them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

type (
	// Access is the authorization a tool needs before its body may run. It is
	// one of Plain, Connected or Approval.
	Access interface {
		access()
	}

	// Plain tools run without a delegated credential.
	Plain struct{}

	// Connected tools need a Token Vault token for Connection.
	Connected struct {
		Connection auth.Connection
	}

	// Approval tools need explicit out-of-band user consent for every call.
	Approval struct {
		Policy ciba.Policy
	}

	// Handler is a tool body. The delegated token, when any, is available
	// through credential.TokenFromContext.
	Handler func(ctx context.Context, call Call) (Result, error)

	// Tool is a callable capability.
	Tool struct {
		// Name is the identifier advertised to the model.
		Name Ident
		// Toolset groups related tools, e.g. "google".
		Toolset string
		// Description tells the model when to use the tool.
		Description string
		// Schema is the JSON schema of the arguments.
		Schema json.RawMessage
		// Access declares the authorization requirement.
		Access Access
		// Handler runs the tool.
		Handler Handler
	}

	// Call is one invocation of a tool.
	Call struct {
		// ID is the model-assigned call identifier.
		ID string
		// Name is the tool invoked.
		Name Ident
		// Args are the raw JSON arguments.
		Args json.RawMessage
		// ConversationID scopes the call.
		ConversationID string
	}

	// Result is the successful output of a tool, rendered as JSON for the
	// model unless it is already a string.
	Result struct {
		Value any
	}
)

func (Plain) access()     {}
func (Connected) access() {}
func (Approval) access()  {}

// Key uniquely identifies the call across conversations.
func (c Call) Key() string {
	return c.ConversationID + "/" + c.ID
}

// Decode unmarshals the call arguments into v.
func (c Call) Decode(v any) error {
	args := c.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("decode %s arguments: %w", c.Name, err)
	}
	return nil
}

// Text renders the result for the model.
func (r Result) Text() (string, error) {
	switch v := r.Value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode tool result: %w", err)
		}
		return string(b), nil
	}
}

// ConfigurationError reports a tool that cannot be offered because of a
// deployment problem, such as a missing API key or connection.
type ConfigurationError struct {
	Tool   Ident
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("tool %s is misconfigured: %s", e.Tool, e.Reason)
}
