package ciba

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/assistant0/assistant0/runtime/agent/telemetry"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

// Mode selects how the flow waits for the user.
type Mode string

const (
	// ModeInterrupt returns a pending decision immediately and relies on the
	// caller resuming the tool call later.
	ModeInterrupt Mode = "interrupt"
	// ModeBlock polls the provider until the request resolves. Development
	// only.
	ModeBlock Mode = "block"
)

const (
	defaultRequestedExpiry = 5 * time.Minute
	defaultInterval        = 5 * time.Second
	slowDownStep           = 5 * time.Second
	tokenConnectionPrefix  = "ciba:"
)

type (
	// Policy describes the approval a tool requires.
	Policy struct {
		// Scopes requested for the approval token.
		Scopes []string
		// Audience of the approval token.
		Audience string
		// Binding renders the message shown to the user from the tool args.
		Binding *BindingTemplate
		// RequestedExpiry overrides the flow default.
		RequestedExpiry time.Duration
	}

	// AuthorizeInput identifies the tool call being approved.
	AuthorizeInput struct {
		// ToolCallKey uniquely identifies the suspended tool call.
		ToolCallKey string
		// Principal is the user asked for approval.
		Principal auth.Principal
		// Policy is the tool approval policy.
		Policy Policy
		// Args are the decoded tool arguments used to render the binding
		// message.
		Args map[string]any
	}

	// Decision is the result of Authorize. Status is StatusPending while the
	// user has not answered and StatusApproved when the caller may run the
	// tool body with Token. Denied and expired requests are reported as
	// errors.
	Decision struct {
		Status  Status
		Request Request
		Token   credential.Token
	}

	// Watcher observes pending requests in the background until they
	// resolve, typically by calling Flow.Refresh.
	Watcher interface {
		Watch(ctx context.Context, req Request) error
	}

	// Options configures a Flow.
	Options struct {
		// Backchannel talks to the identity provider. Required.
		Backchannel Backchannel
		// Store persists requests. Required.
		Store Store
		// Tokens parks approval tokens until the approved call consumes them.
		// Required.
		Tokens credential.Cache
		// Mode defaults to ModeInterrupt.
		Mode Mode
		// Development enables ModeBlock.
		Development bool
		// RequestedExpiry is the default request lifetime. Defaults to 5m.
		RequestedExpiry time.Duration
		// Watcher is notified of new pending requests. Optional.
		Watcher Watcher
		// Telemetry receives logs, metrics and spans.
		Telemetry telemetry.Set
		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// Flow drives approval-gated tool calls through the backchannel.
	Flow struct {
		bc      Backchannel
		store   Store
		tokens  credential.Cache
		mode    Mode
		expiry  time.Duration
		watcher Watcher
		tel     telemetry.Set
		now     func() time.Time
		polls   singleflight.Group
	}
)

// NewFlow builds a Flow. ModeBlock without Development fails.
func NewFlow(opts Options) (*Flow, error) {
	if opts.Backchannel == nil {
		return nil, errors.New("ciba: backchannel is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ciba: store is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("ciba: token cache is required")
	}
	mode := opts.Mode
	switch mode {
	case "":
		mode = ModeInterrupt
	case ModeInterrupt:
	case ModeBlock:
		if !opts.Development {
			return nil, ErrBlockModeRequiresDevelopment
		}
	default:
		return nil, fmt.Errorf("ciba: unknown mode %q", mode)
	}
	f := &Flow{
		bc:      opts.Backchannel,
		store:   opts.Store,
		tokens:  opts.Tokens,
		mode:    mode,
		expiry:  opts.RequestedExpiry,
		watcher: opts.Watcher,
		tel:     opts.Telemetry.WithDefaults(),
		now:     opts.Now,
	}
	if f.expiry <= 0 {
		f.expiry = defaultRequestedExpiry
	}
	if f.now == nil {
		f.now = time.Now
	}
	return f, nil
}

// Mode returns the configured wait mode.
func (f *Flow) Mode() Mode { return f.mode }

// Authorize returns the approval decision for a tool call. The first call for
// a tool call key initiates a backchannel request. Later calls observe its
// state; an approved request yields its token exactly once.
func (f *Flow) Authorize(ctx context.Context, in AuthorizeInput) (Decision, error) {
	if in.ToolCallKey == "" {
		return Decision{}, errors.New("ciba: tool call key is required")
	}
	if in.Principal.Subject == "" {
		return Decision{}, auth.ErrNoPrincipal
	}
	ctx, span := f.tel.Tracer.Start(ctx, "ciba.authorize")
	defer span.End()

	req, err := f.store.FindByToolCall(ctx, in.ToolCallKey)
	switch {
	case errors.Is(err, ErrRequestNotFound):
		req, err = f.initiate(ctx, in)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "initiate failed")
			return Decision{}, err
		}
	case err != nil:
		return Decision{}, fmt.Errorf("ciba: load request: %w", err)
	}
	if req.Subject != in.Principal.Subject {
		return Decision{}, fmt.Errorf("ciba: request %s belongs to another subject", req.ID)
	}

	if req.Status == StatusPending {
		if f.mode == ModeBlock {
			req, err = f.wait(ctx, req)
		} else {
			req, err = f.Refresh(ctx, req.ID)
		}
		if err != nil {
			return Decision{}, err
		}
	}
	return f.decide(ctx, req)
}

// Refresh polls the provider once for a pending request and persists the
// outcome. It is safe to call concurrently and from push callbacks.
func (f *Flow) Refresh(ctx context.Context, id string) (Request, error) {
	v, err, _ := f.polls.Do(id, func() (any, error) {
		return f.refresh(ctx, id)
	})
	if err != nil {
		return Request{}, err
	}
	return v.(Request), nil
}

// Lookup returns the request gating a tool call.
func (f *Flow) Lookup(ctx context.Context, toolCallKey string) (Request, error) {
	return f.store.FindByToolCall(ctx, toolCallKey)
}

func (f *Flow) initiate(ctx context.Context, in AuthorizeInput) (Request, error) {
	if in.Policy.Binding == nil {
		return Request{}, errors.New("ciba: policy has no binding message template")
	}
	msg, err := in.Policy.Binding.Render(in.Args)
	if err != nil {
		return Request{}, err
	}
	expiry := in.Policy.RequestedExpiry
	if expiry <= 0 {
		expiry = f.expiry
	}
	scopes := auth.NormalizeScopes(in.Policy.Scopes)
	resp, err := f.bc.Initiate(ctx, InitiateRequest{
		Subject:         in.Principal.Subject,
		BindingMessage:  msg,
		Scopes:          scopes,
		Audience:        in.Policy.Audience,
		RequestedExpiry: expiry,
	})
	if err != nil {
		return Request{}, fmt.Errorf("ciba: initiate: %w", err)
	}
	now := f.now().UTC()
	if resp.ExpiresIn <= 0 {
		resp.ExpiresIn = expiry
	}
	if resp.Interval <= 0 {
		resp.Interval = defaultInterval
	}
	req := Request{
		ID:             resp.AuthReqID,
		ToolCallKey:    in.ToolCallKey,
		Subject:        in.Principal.Subject,
		BindingMessage: msg,
		Scopes:         scopes,
		Audience:       in.Policy.Audience,
		Status:         StatusPending,
		Interval:       resp.Interval,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(resp.ExpiresIn),
	}
	if err := f.store.Create(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateRequest) {
			// Lost a race with a concurrent invocation of the same call.
			return f.store.FindByToolCall(ctx, in.ToolCallKey)
		}
		return Request{}, fmt.Errorf("ciba: persist request: %w", err)
	}
	f.tel.Metrics.IncCounter("ciba_request_initiated", 1)
	f.tel.Logger.Info(ctx, "authorization request initiated", "auth_req_id", req.ID, "tool_call", req.ToolCallKey)
	if f.watcher != nil && f.mode == ModeInterrupt {
		if err := f.watcher.Watch(ctx, req); err != nil {
			f.tel.Logger.Warn(ctx, "authorization watcher failed to start", "auth_req_id", req.ID, "err", err)
		}
	}
	return req, nil
}

func (f *Flow) refresh(ctx context.Context, id string) (Request, error) {
	req, err := f.store.Load(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if req.Status != StatusPending {
		return req, nil
	}
	now := f.now()
	if req.ExpiredAt(now) {
		return f.resolve(ctx, req, StatusExpired, credential.Token{})
	}
	ctx, span := f.tel.Tracer.Start(ctx, "ciba.poll")
	defer span.End()
	res, err := f.bc.Poll(ctx, req.ID)
	if err != nil {
		span.RecordError(err)
		// Another process may have consumed the provider response.
		if cur, lerr := f.store.Load(ctx, id); lerr == nil && cur.Status != StatusPending {
			return cur, nil
		}
		return Request{}, fmt.Errorf("ciba: poll: %w", err)
	}
	switch res.Status {
	case StatusPending, "":
		return req, nil
	case StatusApproved, StatusDenied, StatusExpired:
		return f.resolve(ctx, req, res.Status, res.Token)
	default:
		return Request{}, fmt.Errorf("ciba: unexpected poll status %q", res.Status)
	}
}

func (f *Flow) resolve(ctx context.Context, req Request, status Status, tok credential.Token) (Request, error) {
	if status == StatusApproved {
		tok.Subject = req.Subject
		tok.Connection = tokenConnectionPrefix + req.ID
		if len(tok.Scopes) == 0 {
			tok.Scopes = req.Scopes
		}
		if err := f.tokens.Put(ctx, f.tokenKey(req), tok); err != nil {
			return Request{}, fmt.Errorf("ciba: park approval token: %w", err)
		}
	}
	out, err := f.store.Resolve(ctx, req.ID, status, f.now())
	if err != nil && !errors.Is(err, ErrNotPending) {
		return Request{}, fmt.Errorf("ciba: resolve request: %w", err)
	}
	f.tel.Metrics.IncCounter("ciba_request_resolved", 1, "status", string(out.Status))
	// Expiry is a normal terminal state.
	f.tel.Logger.Info(ctx, "authorization request resolved", "auth_req_id", out.ID, "status", string(out.Status))
	return out, nil
}

// wait polls until the request leaves pending, honoring the advertised
// interval and slow_down responses.
func (f *Flow) wait(ctx context.Context, req Request) (Request, error) {
	interval := req.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// The next poll would land past the caller deadline.
				<-ctx.Done()
			}
			return Request{}, ctx.Err()
		}
		cur, err := f.store.Load(ctx, req.ID)
		if err != nil {
			return Request{}, err
		}
		if cur.Status != StatusPending {
			return cur, nil
		}
		if cur.ExpiredAt(f.now()) {
			return f.resolve(ctx, cur, StatusExpired, credential.Token{})
		}
		res, err := f.bc.Poll(ctx, cur.ID)
		if err != nil {
			return Request{}, fmt.Errorf("ciba: poll: %w", err)
		}
		if res.SlowDown {
			interval += slowDownStep
			lim.SetLimit(rate.Every(interval))
			continue
		}
		if res.Status != StatusPending && res.Status != "" {
			return f.resolve(ctx, cur, res.Status, res.Token)
		}
	}
}

func (f *Flow) decide(ctx context.Context, req Request) (Decision, error) {
	switch req.Status {
	case StatusPending:
		return Decision{Status: StatusPending, Request: req}, nil
	case StatusDenied:
		return Decision{}, &DeniedError{Request: req}
	case StatusExpired:
		return Decision{}, &ExpiredError{Request: req}
	case StatusApproved:
		// The token is loaded before the approval is spent so a lost token
		// never burns it.
		key := f.tokenKey(req)
		tok, ok, err := f.tokens.Get(ctx, key)
		if err != nil {
			return Decision{}, fmt.Errorf("ciba: load approval token: %w", err)
		}
		if !ok {
			return Decision{}, f.missingToken(ctx, req)
		}
		consumed, err := f.store.Consume(ctx, req.ID, f.now())
		if err != nil {
			return Decision{}, err
		}
		if err := f.tokens.Delete(ctx, key); err != nil {
			f.tel.Logger.Warn(ctx, "approval token eviction failed", "auth_req_id", req.ID, "err", err)
		}
		return Decision{Status: StatusApproved, Request: consumed, Token: tok}, nil
	default:
		return Decision{}, fmt.Errorf("ciba: unknown request status %q", req.Status)
	}
}

// missingToken explains an approved request without a parked token: either
// another caller consumed it, or the token expired from the cache, which
// ends the request like a provider expiry.
func (f *Flow) missingToken(ctx context.Context, req Request) error {
	cur, err := f.store.Load(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("ciba: reload request: %w", err)
	}
	if cur.Consumed {
		return ErrAlreadyConsumed
	}
	f.tel.Logger.Info(ctx, "approval token expired before use", "auth_req_id", req.ID)
	return &ExpiredError{Request: cur}
}

func (f *Flow) tokenKey(req Request) credential.Key {
	return credential.Key{Subject: req.Subject, Connection: tokenConnectionPrefix + req.ID}
}
