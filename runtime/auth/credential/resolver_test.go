package credential_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/credential"
	"github.com/assistant0/assistant0/runtime/auth/credential/inmem"
)

type fakeExchanger struct {
	calls   atomic.Int32
	delay   time.Duration
	ttl     time.Duration
	err     error
	granted func(req credential.ExchangeRequest) []string
	mu      sync.Mutex
	reqs    []credential.ExchangeRequest
}

func (f *fakeExchanger) Exchange(ctx context.Context, req credential.ExchangeRequest) (credential.Token, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return credential.Token{}, f.err
	}
	ttl := f.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	scopes := req.Scopes
	if f.granted != nil {
		scopes = f.granted(req)
	}
	return credential.Token{
		AccessToken: auth.NewSecret(fmt.Sprintf("tok-%s-%s", req.Subject, req.SubjectToken.Reveal())),
		Scopes:      scopes,
		ExpiresAt:   time.Now().Add(ttl),
	}, nil
}

func (f *fakeExchanger) lastRequest() credential.ExchangeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func principal(subject string) auth.Principal {
	return auth.Principal{Subject: subject, SessionToken: auth.NewSecret("session-" + subject)}
}

func newResolver(t *testing.T, ex credential.Exchanger, mutate ...func(*credential.Options)) (*credential.Resolver, *inmem.Cache) {
	t.Helper()
	cache := inmem.New()
	opts := credential.Options{
		Cache:     cache,
		Exchanger: ex,
		AuthorizeURL: func(conn auth.Connection, scopes []string) string {
			return "https://app.example/connect?connection=" + conn.ID
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	r, err := credential.NewResolver(opts)
	require.NoError(t, err)
	return r, cache
}

var calendar = auth.Connection{ID: "google-oauth2", Scopes: []string{"openid", "calendar.events"}}

func TestResolveNoConsentYieldsAuthorizationRequired(t *testing.T) {
	ex := &fakeExchanger{err: &credential.AuthorizationRequiredError{}}
	r, cache := newResolver(t, ex)

	_, err := r.Resolve(context.Background(), calendar, principal("alice"))
	require.ErrorIs(t, err, credential.ErrNeedsAuthorization)
	are, ok := credential.AsAuthorizationRequired(err)
	require.True(t, ok)
	require.Equal(t, credential.ReasonNeverGranted, are.Reason)
	require.Equal(t, "google-oauth2", are.Connection.ID)
	require.Equal(t, []string{"calendar.events", "openid"}, are.Scopes)
	require.Equal(t, "https://app.example/connect?connection=google-oauth2", are.AuthorizeURL)
	require.Equal(t, 0, cache.Len())
}

func TestResolveCachedTokenSkipsExchange(t *testing.T) {
	ex := &fakeExchanger{}
	r, _ := newResolver(t, ex)
	ctx := context.Background()

	first, err := r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)
	second, err := r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)

	require.EqualValues(t, 1, ex.calls.Load())
	require.Equal(t, first.AccessToken.Reveal(), second.AccessToken.Reveal())
}

func TestResolveExpiredTokenIsReexchanged(t *testing.T) {
	ex := &fakeExchanger{ttl: 10 * time.Second}
	r, _ := newResolver(t, ex, func(o *credential.Options) { o.Skew = 30 * time.Second })
	ctx := context.Background()

	tok, err := r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken.Reveal())
	_, err = r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)
	require.EqualValues(t, 2, ex.calls.Load(), "token inside the skew window is refreshed")
}

func TestResolveRequestsUnionOfScopes(t *testing.T) {
	ex := &fakeExchanger{}
	r, _ := newResolver(t, ex)
	ctx := context.Background()

	_, err := r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)
	gmail := auth.Connection{ID: "google-oauth2", Scopes: []string{"openid", "gmail.readonly"}}
	tok, err := r.Resolve(ctx, gmail, principal("alice"))
	require.NoError(t, err)
	require.Equal(t, []string{"calendar.events", "gmail.readonly", "openid"}, ex.lastRequest().Scopes)
	require.True(t, tok.Covers(calendar.Scopes))

	_, err = r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)
	require.EqualValues(t, 2, ex.calls.Load())
}

func TestResolvePartialGrantNeedsAuthorization(t *testing.T) {
	ex := &fakeExchanger{granted: func(credential.ExchangeRequest) []string { return []string{"openid"} }}
	r, _ := newResolver(t, ex)
	_, err := r.Resolve(context.Background(), calendar, principal("alice"))
	require.ErrorIs(t, err, credential.ErrNeedsAuthorization)
}

func TestResolveCollapsesConcurrentExchanges(t *testing.T) {
	ex := &fakeExchanger{delay: 50 * time.Millisecond}
	r, _ := newResolver(t, ex)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), calendar, principal("alice"))
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, ex.calls.Load())
}

func TestResolveUsesRefreshTokenWhenConfigured(t *testing.T) {
	ex := &fakeExchanger{}
	r, _ := newResolver(t, ex, func(o *credential.Options) { o.SubjectTokenType = credential.SubjectRefreshToken })

	p := principal("alice")
	_, err := r.Resolve(context.Background(), calendar, p)
	require.ErrorIs(t, err, credential.ErrNoSubjectToken)

	p.RefreshToken = auth.NewSecret("rt-1")
	_, err = r.Resolve(context.Background(), calendar, p)
	require.NoError(t, err)
	req := ex.lastRequest()
	require.Equal(t, credential.SubjectRefreshToken, req.SubjectTokenType)
	require.Equal(t, "rt-1", req.SubjectToken.Reveal())
}

func TestResolvePropagatesUpstreamErrors(t *testing.T) {
	upstream := &credential.UpstreamError{Service: "auth0", Status: 503, Message: "unavailable"}
	r, _ := newResolver(t, &fakeExchanger{err: upstream})
	_, err := r.Resolve(context.Background(), calendar, principal("alice"))
	var ue *credential.UpstreamError
	require.ErrorAs(t, err, &ue)
	require.False(t, errors.Is(err, credential.ErrNeedsAuthorization))
}

func TestInvalidateForcesExchangeAndReasonExpired(t *testing.T) {
	ex := &fakeExchanger{}
	r, cache := newResolver(t, ex)
	ctx := context.Background()
	_, err := r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)

	require.NoError(t, r.Invalidate(ctx, "alice", calendar))
	require.Equal(t, 0, cache.Len())
	_, err = r.Resolve(ctx, calendar, principal("alice"))
	require.NoError(t, err)
	require.EqualValues(t, 2, ex.calls.Load())

	// An expired grant that can no longer be exchanged reports ReasonExpired.
	require.NoError(t, cache.Put(ctx, credential.KeyFor("bob", calendar), credential.Token{
		Subject: "bob", AccessToken: auth.NewSecret("old"), ExpiresAt: time.Now().Add(-time.Minute),
	}))
	ex.err = &credential.AuthorizationRequiredError{}
	_, err = r.Resolve(ctx, calendar, principal("bob"))
	are, ok := credential.AsAuthorizationRequired(err)
	require.True(t, ok)
	require.Equal(t, credential.ReasonExpired, are.Reason)
}

func TestResolveHonorsCallerCancellation(t *testing.T) {
	ex := &fakeExchanger{delay: 200 * time.Millisecond}
	r, _ := newResolver(t, ex)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx, calendar, principal("alice"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveNeverCrossesSubjects(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("resolved token subject equals requesting subject", prop.ForAll(
		func(subjects []string) bool {
			ex := &fakeExchanger{delay: time.Millisecond}
			r, _ := newResolver(t, ex)
			var (
				wg  sync.WaitGroup
				bad atomic.Int32
			)
			for _, s := range subjects {
				for range 3 {
					wg.Add(1)
					go func(subject string) {
						defer wg.Done()
						tok, err := r.Resolve(context.Background(), calendar, principal(subject))
						if err != nil || tok.Subject != subject ||
							tok.AccessToken.Reveal() != "tok-"+subject+"-session-"+subject {
							bad.Add(1)
						}
					}(s)
				}
			}
			wg.Wait()
			return bad.Load() == 0
		},
		gen.SliceOfN(8, gen.Identifier()),
	))
	properties.TestingRun(t)
}
