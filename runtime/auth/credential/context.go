package credential

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned by TokenFromContext when no delegated token was
// injected. Tool bodies that see it were invoked outside the gate.
var ErrNoToken = errors.New("credential: no delegated token in context")

type tokenKey struct{}

// WithToken returns a context carrying the delegated token for the running
// tool body.
func WithToken(ctx context.Context, tok Token) context.Context {
	return context.WithValue(ctx, tokenKey{}, tok)
}

// TokenFromContext returns the delegated token injected by the gate.
func TokenFromContext(ctx context.Context) (Token, error) {
	tok, ok := ctx.Value(tokenKey{}).(Token)
	if !ok || tok.AccessToken.IsEmpty() {
		return Token{}, ErrNoToken
	}
	return tok, nil
}

// HTTPClient returns an HTTP client that authenticates requests with the
// delegated token in ctx. A base client set with oauth2.HTTPClient in ctx is
// honored.
func HTTPClient(ctx context.Context) (*http.Client, error) {
	tok, err := TokenFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok.OAuth2())), nil
}
