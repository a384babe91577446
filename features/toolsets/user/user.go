// Package user exposes the signed-in user's profile to the model.
package user

import (
	"context"
	"encoding/json"

	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/idp"
)

// Toolset is the name tools of this package are grouped under.
const Toolset = "user"

// ProfileSource returns the profile of the user owning a session token. It
// is implemented by *idp.Client.
type ProfileSource interface {
	UserInfo(ctx context.Context, session auth.Secret) (idp.UserInfo, error)
}

// Tools returns the user tools.
func Tools(src ProfileSource) []tools.Tool {
	return []tools.Tool{{
		Name:        "get_user_info",
		Toolset:     Toolset,
		Description: "Get information about the current logged in user, such as name and email.",
		Schema:      json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
		Access:      tools.Plain{},
		Handler: func(ctx context.Context, _ tools.Call) (tools.Result, error) {
			p, err := auth.PrincipalFromContext(ctx)
			if err != nil {
				return tools.Result{}, err
			}
			info, err := src.UserInfo(ctx, p.SessionToken)
			if err != nil {
				return tools.Result{}, err
			}
			return tools.Result{Value: info}, nil
		},
	}}
}
