package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession is returned when a session token fails verification.
var ErrInvalidSession = errors.New("auth: invalid session token")

type (
	// KeySource resolves the verification key for a token.
	KeySource interface {
		Key(ctx context.Context, token *jwt.Token) (any, error)
	}

	// Verifier validates user session access tokens issued by the identity
	// provider and turns them into principals.
	Verifier struct {
		issuer   string
		audience string
		keys     KeySource
		methods  []string
	}

	// VerifierOptions configures a Verifier.
	VerifierOptions struct {
		// Issuer is the expected "iss" claim, e.g. "https://tenant.auth0.com/".
		Issuer string
		// Audience is the expected "aud" claim. Optional.
		Audience string
		// Keys resolves verification keys. Required.
		Keys KeySource
		// Methods restricts accepted signing algorithms. Defaults to RS256.
		Methods []string
	}

	sessionClaims struct {
		Email string `json:"email,omitempty"`
		Name  string `json:"name,omitempty"`
		jwt.RegisteredClaims
	}
)

// NewVerifier builds a session verifier.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	if opts.Keys == nil {
		return nil, errors.New("auth: key source is required")
	}
	methods := opts.Methods
	if len(methods) == 0 {
		methods = []string{jwt.SigningMethodRS256.Alg()}
	}
	return &Verifier{issuer: opts.Issuer, audience: opts.Audience, keys: opts.Keys, methods: methods}, nil
}

// Verify parses and validates raw and returns the principal it identifies.
// The raw token is kept on the principal as the session token.
func (v *Verifier) Verify(ctx context.Context, raw string) (Principal, error) {
	raw = ExtractBearer(raw)
	if raw == "" {
		return Principal{}, ErrInvalidSession
	}
	popts := []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		popts = append(popts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		popts = append(popts, jwt.WithAudience(v.audience))
	}
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.keys.Key(ctx, t)
	}, popts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidSession)
	}
	return Principal{
		Subject:      claims.Subject,
		Email:        claims.Email,
		Name:         claims.Name,
		SessionToken: NewSecret(raw),
	}, nil
}

// ExtractBearer strips the Bearer prefix from an Authorization header value.
func ExtractBearer(header string) string {
	h := strings.TrimSpace(header)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}

// StaticKey is a KeySource returning the same key for every token. Used with
// HMAC-signed development sessions.
type StaticKey struct{ Value any }

// Key implements KeySource.
func (k StaticKey) Key(context.Context, *jwt.Token) (any, error) { return k.Value, nil }

// JWKS is a KeySource backed by the identity provider JSON Web Key Set. The
// set is refreshed in the background and refetched, rate limited, when a
// token names an unknown key id.
type JWKS struct {
	kf keyfunc.Keyfunc
}

// NewJWKS returns the key source of the tenant domain. Background refreshes
// stop when ctx is canceled.
func NewJWKS(ctx context.Context, domain string) (*JWKS, error) {
	return NewJWKSFromURL(ctx, JWKSURL(domain))
}

// NewJWKSFromURL returns a key source reading the key set at url.
func NewJWKSFromURL(ctx context.Context, url string) (*JWKS, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("jwks %s: %w", url, err)
	}
	return &JWKS{kf: kf}, nil
}

// JWKSURL returns the key set location of the tenant domain.
func JWKSURL(domain string) string {
	return "https://" + strings.TrimSuffix(domain, "/") + "/.well-known/jwks.json"
}

// Key implements KeySource.
func (j *JWKS) Key(ctx context.Context, t *jwt.Token) (any, error) {
	return j.kf.KeyfuncCtx(ctx)(t)
}
