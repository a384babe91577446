// Package credential resolves delegated access tokens for upstream
// connections on behalf of the authenticated end user. Tokens are cached per
// (subject, connection) and re-exchanged through the identity provider when
// they expire or when a tool needs scopes the cached token lacks.
package credential

import (
	"time"

	"golang.org/x/oauth2"

	"github.com/assistant0/assistant0/runtime/auth"
)

type (
	// Token is a delegated access token for one subject and connection.
	Token struct {
		// Subject is the end user the token was minted for.
		Subject string
		// Connection is the connection key the token belongs to.
		Connection string
		// AccessToken is the raw bearer value.
		AccessToken auth.Secret
		// TokenType is the OAuth token type, usually "Bearer".
		TokenType string
		// Scopes lists the scopes granted with the token.
		Scopes []string
		// ExpiresAt is when the token stops being accepted. Zero means unknown
		// and is treated as expired.
		ExpiresAt time.Time
	}

	// Key identifies a cache slot. Tokens are never shared across subjects.
	Key struct {
		Subject    string
		Connection string
	}
)

// KeyFor builds the cache key of conn for subject.
func KeyFor(subject string, conn auth.Connection) Key {
	return Key{Subject: subject, Connection: conn.Key()}
}

// String renders the key for logs and singleflight grouping.
func (k Key) String() string {
	return k.Subject + "|" + k.Connection
}

// Valid reports whether the token is usable at now with at least skew left.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	if t.AccessToken.IsEmpty() || t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// Covers reports whether the token was granted every scope in required.
func (t Token) Covers(required []string) bool {
	return auth.CoversScopes(t.Scopes, required)
}

// Clone returns a copy of t that does not share secret storage.
func (t Token) Clone() Token {
	out := t
	out.AccessToken = auth.NewSecret(t.AccessToken.Reveal())
	out.Scopes = append([]string(nil), t.Scopes...)
	return out
}

// OAuth2 converts the token for use with golang.org/x/oauth2 HTTP clients.
func (t Token) OAuth2() *oauth2.Token {
	typ := t.TokenType
	if typ == "" {
		typ = "Bearer"
	}
	return &oauth2.Token{AccessToken: t.AccessToken.Reveal(), TokenType: typ, Expiry: t.ExpiresAt}
}

// String never includes the access token.
func (t Token) String() string {
	return "credential.Token{subject=" + t.Subject + " connection=" + t.Connection +
		" expires=" + t.ExpiresAt.UTC().Format(time.RFC3339) + "}"
}
