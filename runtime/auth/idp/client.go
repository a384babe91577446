// Package idp is the Auth0 client used by the authorization layer. It
// exchanges session credentials for Token Vault connection tokens, drives
// the CIBA backchannel and reads the user profile.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

const (
	grantTokenExchange = "urn:auth0:params:oauth:grant-type:token-exchange:federated-connection-access-token"
	grantCIBA          = "urn:openid:params:grant-type:ciba"
	tokenTypeFederated = "http://auth0.com/oauth/token-type/federated-connection-access-token"

	maxErrorBody = 64 << 10
)

// Config configures a Client.
type Config struct {
	// Domain is the tenant domain, e.g. "tenant.us.auth0.com". A full URL is
	// accepted for tests.
	Domain string
	// ClientID and ClientSecret identify the web application. They are used
	// for CIBA.
	ClientID     string
	ClientSecret string
	// ExchangeClientID and ExchangeClientSecret identify the client allowed to
	// perform Token Vault exchanges. They default to ClientID and
	// ClientSecret.
	ExchangeClientID     string
	ExchangeClientSecret string
	// HTTPClient defaults to a client with a 30s timeout. A client stored in
	// the context under oauth2.HTTPClient takes precedence.
	HTTPClient *http.Client
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Client talks to the identity provider. It implements credential.Exchanger
// and ciba.Backchannel.
type Client struct {
	base           *url.URL
	clientID       string
	clientSecret   auth.Secret
	exchangeID     string
	exchangeSecret auth.Secret
	http           *http.Client
	now            func() time.Time
}

var (
	_ credential.Exchanger = (*Client)(nil)
	_ ciba.Backchannel     = (*Client)(nil)
)

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Domain == "" {
		return nil, errors.New("idp: domain is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("idp: client credentials are required")
	}
	raw := cfg.Domain
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("idp: parse domain: %w", err)
	}
	c := &Client{
		base:           base,
		clientID:       cfg.ClientID,
		clientSecret:   auth.NewSecret(cfg.ClientSecret),
		exchangeID:     cfg.ExchangeClientID,
		exchangeSecret: auth.NewSecret(cfg.ExchangeClientSecret),
		http:           cfg.HTTPClient,
		now:            cfg.Now,
	}
	if c.exchangeID == "" {
		c.exchangeID = cfg.ClientID
		c.exchangeSecret = auth.NewSecret(cfg.ClientSecret)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Issuer returns the issuer identifier, "https://<domain>/".
func (c *Client) Issuer() string { return c.base.String() }

// Exchange trades the user's session credential for the connection access
// token held in the Token Vault. Missing or revoked grants surface as
// *credential.AuthorizationRequiredError.
func (c *Client) Exchange(ctx context.Context, req credential.ExchangeRequest) (credential.Token, error) {
	form := url.Values{
		"grant_type":           {grantTokenExchange},
		"client_id":            {c.exchangeID},
		"client_secret":        {c.exchangeSecret.Reveal()},
		"subject_token":        {req.SubjectToken.Reveal()},
		"subject_token_type":   {string(req.SubjectTokenType)},
		"requested_token_type": {tokenTypeFederated},
		"connection":           {req.Connection.ID},
	}
	if req.Connection.Audience != "" {
		form.Set("audience", req.Connection.Audience)
	}
	var body tokenResponse
	if err := c.postForm(ctx, "oauth/token", form, &body); err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && needsAuthorization(re.ErrorCode) {
			return credential.Token{}, &credential.AuthorizationRequiredError{
				Connection: req.Connection,
				Scopes:     req.Scopes,
				Reason:     reasonFor(re.ErrorCode),
				Cause:      err,
			}
		}
		return credential.Token{}, err
	}
	return body.token(c.now()), nil
}

// Initiate starts a backchannel authentication request for the subject.
func (c *Client) Initiate(ctx context.Context, req ciba.InitiateRequest) (ciba.InitiateResponse, error) {
	hint, err := json.Marshal(loginHint{Format: "iss_sub", Issuer: c.Issuer(), Subject: req.Subject})
	if err != nil {
		return ciba.InitiateResponse{}, err
	}
	form := c.clientForm()
	form.Set("login_hint", string(hint))
	form.Set("scope", auth.ScopeString(ensureOpenID(req.Scopes)))
	form.Set("binding_message", req.BindingMessage)
	if req.Audience != "" {
		form.Set("audience", req.Audience)
	}
	if req.RequestedExpiry > 0 {
		form.Set("requested_expiry", strconv.Itoa(int(req.RequestedExpiry/time.Second)))
	}
	var body struct {
		AuthReqID string `json:"auth_req_id"`
		ExpiresIn int64  `json:"expires_in"`
		Interval  int64  `json:"interval"`
	}
	if err := c.postForm(ctx, "bc-authorize", form, &body); err != nil {
		return ciba.InitiateResponse{}, err
	}
	if body.AuthReqID == "" {
		return ciba.InitiateResponse{}, errors.New("idp: bc-authorize returned no auth_req_id")
	}
	return ciba.InitiateResponse{
		AuthReqID: body.AuthReqID,
		ExpiresIn: time.Duration(body.ExpiresIn) * time.Second,
		Interval:  time.Duration(body.Interval) * time.Second,
	}, nil
}

// Poll checks the outcome of a backchannel request once.
func (c *Client) Poll(ctx context.Context, authReqID string) (ciba.PollResult, error) {
	form := c.clientForm()
	form.Set("grant_type", grantCIBA)
	form.Set("auth_req_id", authReqID)
	var body tokenResponse
	err := c.postForm(ctx, "oauth/token", form, &body)
	if err == nil {
		return ciba.PollResult{Status: ciba.StatusApproved, Token: body.token(c.now())}, nil
	}
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return ciba.PollResult{}, err
	}
	switch re.ErrorCode {
	case "authorization_pending":
		return ciba.PollResult{Status: ciba.StatusPending}, nil
	case "slow_down":
		return ciba.PollResult{Status: ciba.StatusPending, SlowDown: true}, nil
	case "access_denied":
		return ciba.PollResult{Status: ciba.StatusDenied}, nil
	case "expired_token":
		return ciba.PollResult{Status: ciba.StatusExpired}, nil
	default:
		return ciba.PollResult{}, err
	}
}

// UserInfo is the OpenID Connect profile of the session user.
type UserInfo struct {
	Subject       string `json:"sub"`
	Name          string `json:"name,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Picture       string `json:"picture,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// UserInfo fetches the profile of the user owning the session token.
func (c *Client) UserInfo(ctx context.Context, session auth.Secret) (UserInfo, error) {
	if session.IsEmpty() {
		return UserInfo{}, credential.ErrNoSubjectToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("userinfo"), nil)
	if err != nil {
		return UserInfo{}, err
	}
	req.Header.Set("Authorization", "Bearer "+session.Reveal())
	req.Header.Set("Accept", "application/json")
	resp, err := c.client(ctx).Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("idp: userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return UserInfo{}, credential.UpstreamStatus("auth0", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("idp: decode userinfo: %w", err)
	}
	return info, nil
}

// ConnectURL returns a builder for the link that starts the account
// connection flow of the web application at appBaseURL.
func ConnectURL(appBaseURL string) func(auth.Connection, []string) string {
	base := strings.TrimSuffix(appBaseURL, "/")
	return func(conn auth.Connection, scopes []string) string {
		q := url.Values{"connection": {conn.ID}}
		if len(scopes) > 0 {
			q.Set("scope", auth.ScopeString(scopes))
		}
		return base + "/auth/connect?" + q.Encode()
	}
}

type (
	tokenResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
		Scope       string `json:"scope"`
	}

	loginHint struct {
		Format  string `json:"format"`
		Issuer  string `json:"iss"`
		Subject string `json:"sub"`
	}
)

// token converts the response. A missing expires_in leaves ExpiresAt zero,
// which callers treat as unknown.
func (t tokenResponse) token(now time.Time) credential.Token {
	tok := credential.Token{
		AccessToken: auth.NewSecret(t.AccessToken),
		TokenType:   t.TokenType,
		Scopes:      auth.NormalizeScopes(strings.Fields(t.Scope)),
	}
	if t.ExpiresIn > 0 {
		tok.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return tok
}

func (c *Client) clientForm() url.Values {
	return url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret.Reveal()},
	}
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) client(ctx context.Context) *http.Client {
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && hc != nil {
		return hc
	}
	return c.http
}

// postForm posts form to path and decodes a JSON success body into out.
// OAuth error responses are returned as *oauth2.RetrieveError.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := c.client(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("idp: %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("idp: decode %s response: %w", path, err)
		}
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var oerr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	_ = json.Unmarshal(raw, &oerr)
	if oerr.Error == "" {
		return credential.UpstreamStatus("auth0", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return &oauth2.RetrieveError{
		Response:         resp,
		Body:             raw,
		ErrorCode:        oerr.Error,
		ErrorDescription: oerr.Description,
	}
}

func needsAuthorization(code string) bool {
	switch code {
	case "invalid_grant", "access_denied", "consent_required",
		"federated_connection_refresh_token_not_found":
		return true
	}
	return false
}

func reasonFor(code string) credential.Reason {
	if code == "access_denied" {
		return credential.ReasonRevoked
	}
	// Left empty so the resolver can tell first grants from expired ones.
	return ""
}

func ensureOpenID(scopes []string) []string {
	return auth.UnionScopes(scopes, []string{"openid"})
}
