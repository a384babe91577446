package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/assistant0/assistant0/runtime/agent/telemetry"
	"github.com/assistant0/assistant0/runtime/auth"
)

const (
	defaultSkew            = 30 * time.Second
	defaultExchangeTimeout = 15 * time.Second
)

type (
	// Options configures a Resolver.
	Options struct {
		// Cache stores delegated tokens. Required.
		Cache Cache
		// Exchanger mints tokens through the identity provider. Required.
		Exchanger Exchanger
		// SubjectTokenType selects the session credential that is exchanged.
		// Defaults to SubjectAccessToken.
		SubjectTokenType SubjectTokenType
		// Skew is the minimum remaining lifetime of a cached token. Defaults
		// to 30s.
		Skew time.Duration
		// ExchangeTimeout bounds a single upstream exchange. Defaults to 15s.
		ExchangeTimeout time.Duration
		// AuthorizeURL builds the link the UI follows to connect an account.
		// Optional.
		AuthorizeURL func(conn auth.Connection, scopes []string) string
		// Telemetry receives logs, metrics and spans.
		Telemetry telemetry.Set
		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// Resolver returns valid delegated tokens for (subject, connection).
	// Concurrent resolutions of the same key collapse into one exchange.
	Resolver struct {
		cache        Cache
		exchanger    Exchanger
		subjectType  SubjectTokenType
		skew         time.Duration
		timeout      time.Duration
		authorizeURL func(auth.Connection, []string) string
		tel          telemetry.Set
		now          func() time.Time
		group        singleflight.Group
	}
)

// NewResolver builds a Resolver.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Cache == nil {
		return nil, errors.New("credential: cache is required")
	}
	if opts.Exchanger == nil {
		return nil, errors.New("credential: exchanger is required")
	}
	r := &Resolver{
		cache:        opts.Cache,
		exchanger:    opts.Exchanger,
		subjectType:  opts.SubjectTokenType,
		skew:         opts.Skew,
		timeout:      opts.ExchangeTimeout,
		authorizeURL: opts.AuthorizeURL,
		tel:          opts.Telemetry.WithDefaults(),
		now:          opts.Now,
	}
	if r.subjectType == "" {
		r.subjectType = SubjectAccessToken
	}
	if r.skew <= 0 {
		r.skew = defaultSkew
	}
	if r.timeout <= 0 {
		r.timeout = defaultExchangeTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Resolve returns a token for conn usable by p. A cached token is returned
// when it is still valid and covers conn.Scopes; otherwise the resolver
// exchanges the session credential for a new one, requesting the union of the
// cached and required scopes so earlier grants are not narrowed.
func (r *Resolver) Resolve(ctx context.Context, conn auth.Connection, p auth.Principal) (Token, error) {
	if p.Subject == "" {
		return Token{}, auth.ErrNoPrincipal
	}
	key := KeyFor(p.Subject, conn)
	required := auth.NormalizeScopes(conn.Scopes)

	if tok, ok := r.cached(ctx, key, required); ok {
		r.tel.Metrics.IncCounter("credential_cache_hit", 1, "connection", conn.ID)
		return tok, nil
	}

	flight := key.String() + "|" + auth.ScopeString(required)
	ch := r.group.DoChan(flight, func() (any, error) {
		// The flight outlives any single caller; bound it on its own.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.exchange(fctx, key, conn, required, p)
	})
	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		tok := res.Val.(Token)
		if tok.Subject != p.Subject {
			return Token{}, fmt.Errorf("credential: resolved token subject mismatch for %s", conn.ID)
		}
		return tok.Clone(), nil
	}
}

// Invalidate evicts the cached token of subject for conn. The gate calls it
// when a vendor rejects the token.
func (r *Resolver) Invalidate(ctx context.Context, subject string, conn auth.Connection) error {
	r.tel.Metrics.IncCounter("credential_invalidated", 1, "connection", conn.ID)
	return r.cache.Delete(ctx, KeyFor(subject, conn))
}

// AuthorizationRequired builds the error returned for conn when the user must
// reconnect the account.
func (r *Resolver) AuthorizationRequired(conn auth.Connection, reason Reason, cause error) *AuthorizationRequiredError {
	scopes := auth.NormalizeScopes(conn.Scopes)
	e := &AuthorizationRequiredError{
		Connection: conn,
		Scopes:     scopes,
		Reason:     reason,
		Cause:      cause,
	}
	if r.authorizeURL != nil {
		e.AuthorizeURL = r.authorizeURL(conn, scopes)
	}
	return e
}

func (r *Resolver) cached(ctx context.Context, key Key, required []string) (Token, bool) {
	tok, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.tel.Logger.Warn(ctx, "credential cache read failed", "key", key.Connection, "err", err)
		return Token{}, false
	}
	if !ok || tok.Subject != key.Subject {
		return Token{}, false
	}
	if !tok.Valid(r.now(), r.skew) || !tok.Covers(required) {
		return Token{}, false
	}
	return tok, true
}

func (r *Resolver) exchange(ctx context.Context, key Key, conn auth.Connection, required []string, p auth.Principal) (Token, error) {
	ctx, span := r.tel.Tracer.Start(ctx, "credential.exchange")
	defer span.End()
	span.AddEvent("exchange", "connection", conn.ID)

	// Another flight may have stored a suitable token meanwhile.
	if tok, ok := r.cached(ctx, key, required); ok {
		return tok, nil
	}
	scopes := required
	prior, hadPrior, _ := r.cache.Get(ctx, key)
	if hadPrior && prior.Subject == key.Subject {
		scopes = auth.UnionScopes(prior.Scopes, required)
	}

	subjectToken := p.SessionToken
	if r.subjectType == SubjectRefreshToken {
		subjectToken = p.RefreshToken
	}
	if subjectToken.IsEmpty() {
		return Token{}, ErrNoSubjectToken
	}

	start := r.now()
	tok, err := r.exchanger.Exchange(ctx, ExchangeRequest{
		Subject:          p.Subject,
		Connection:       conn,
		Scopes:           scopes,
		SubjectToken:     subjectToken,
		SubjectTokenType: r.subjectType,
	})
	r.tel.Metrics.RecordTimer("credential_exchange_duration", r.now().Sub(start), "connection", conn.ID)
	if err != nil {
		span.RecordError(err)
		if are, ok := AsAuthorizationRequired(err); ok {
			reason := are.Reason
			if reason == "" {
				reason = ReasonNeverGranted
				if hadPrior {
					reason = ReasonExpired
				}
			}
			out := r.AuthorizationRequired(conn.WithScopes(scopes...), reason, err)
			if are.Message != "" {
				out.Message = are.Message
			}
			r.tel.Metrics.IncCounter("credential_authorization_required", 1, "connection", conn.ID, "reason", string(reason))
			return Token{}, out
		}
		span.SetStatus(codes.Error, "exchange failed")
		r.tel.Logger.Error(ctx, "credential exchange failed", "connection", conn.ID, "err", err)
		return Token{}, err
	}

	tok.Subject = p.Subject
	tok.Connection = key.Connection
	if len(tok.Scopes) == 0 {
		tok.Scopes = scopes
	}
	tok.Scopes = auth.NormalizeScopes(tok.Scopes)
	if err := r.cache.Put(ctx, key, tok); err != nil {
		r.tel.Logger.Warn(ctx, "credential cache write failed", "connection", conn.ID, "err", err)
	}
	if !tok.Covers(required) {
		// The user granted the connection but not every scope the tool needs.
		return Token{}, r.AuthorizationRequired(conn.WithScopes(scopes...), ReasonNeverGranted, nil)
	}
	r.tel.Metrics.IncCounter("credential_exchange", 1, "connection", conn.ID)
	r.tel.Logger.Debug(ctx, "credential exchanged", "connection", conn.ID, "expires_at", tok.ExpiresAt)
	return tok, nil
}
