// Package auth holds the identity primitives shared by the credential
// resolver, the tool gate and the transports: the authenticated end user
// (Principal), upstream connections and their scope algebra, zeroizable secrets
// and session token verification.
package auth

import (
	"context"
	"errors"
)

// ErrNoPrincipal is returned when a context carries no authenticated user.
var ErrNoPrincipal = errors.New("auth: no authenticated principal in context")

// Principal is the authenticated end user on whose behalf tools run.
type Principal struct {
	// Subject is the identity provider user id ("sub" claim).
	Subject string
	// Email is informational and never used for authorization decisions.
	Email string
	// Name is the display name when known.
	Name string
	// SessionToken is the raw access token of the user session. It is the
	// subject token exchanged for federated connection tokens and the bearer
	// used against the userinfo endpoint.
	SessionToken Secret
	// RefreshToken is the session refresh token when the deployment exchanges
	// refresh tokens instead of access tokens.
	RefreshToken Secret
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored in ctx.
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	if ctx == nil {
		return Principal{}, ErrNoPrincipal
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.Subject == "" {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}
