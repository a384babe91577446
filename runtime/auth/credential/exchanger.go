package credential

import (
	"context"

	"github.com/assistant0/assistant0/runtime/auth"
)

// SubjectTokenType selects which user credential is exchanged for federated
// connection tokens.
type SubjectTokenType string

const (
	// SubjectAccessToken exchanges the session access token.
	SubjectAccessToken SubjectTokenType = "urn:ietf:params:oauth:token-type:access_token"
	// SubjectRefreshToken exchanges the session refresh token.
	SubjectRefreshToken SubjectTokenType = "urn:ietf:params:oauth:token-type:refresh_token"
)

// ParseSubjectTokenType maps configuration values to a SubjectTokenType.
func ParseSubjectTokenType(s string) (SubjectTokenType, bool) {
	switch s {
	case "", "access_token", string(SubjectAccessToken):
		return SubjectAccessToken, true
	case "refresh_token", string(SubjectRefreshToken):
		return SubjectRefreshToken, true
	}
	return "", false
}

type (
	// ExchangeRequest describes a token exchange against the identity
	// provider token vault.
	ExchangeRequest struct {
		Subject          string
		Connection       auth.Connection
		Scopes           []string
		SubjectToken     auth.Secret
		SubjectTokenType SubjectTokenType
	}

	// Exchanger mints delegated tokens. Implementations return
	// *AuthorizationRequiredError when the user never granted (or revoked)
	// consent for the connection and *UpstreamError for other failures.
	Exchanger interface {
		Exchange(ctx context.Context, req ExchangeRequest) (Token, error)
	}
)
