// Package gate decides whether a tool body may run. It validates the call
// arguments, resolves the delegated credential or out-of-band approval the
// tool declares, runs the body with the credential in its context and turns
// every authorization problem into an interruption value instead of an
// error.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/assistant0/assistant0/runtime/agent/interrupt"
	"github.com/assistant0/assistant0/runtime/agent/telemetry"
	"github.com/assistant0/assistant0/runtime/agent/toolerrors"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

// AlreadyCompletedMessage is returned for an approved action that already ran.
const AlreadyCompletedMessage = "This action was already completed."

type (
	// Kind is the outcome of an invocation.
	Kind string

	// Outcome is the result of Invoke. Interruptions are values: the caller
	// suspends the call on KindNeedsAuthorization and KindNeedsApproval.
	Outcome struct {
		Kind Kind
		// Result is set for KindOK.
		Result tools.Result
		// Interruption is set for the two Needs kinds.
		Interruption *interrupt.Interruption
		// Err is set for KindDenied, KindExpired and KindFailed.
		Err error
	}

	// CredentialResolver resolves delegated tokens.
	CredentialResolver interface {
		Resolve(ctx context.Context, conn auth.Connection, p auth.Principal) (credential.Token, error)
		Invalidate(ctx context.Context, subject string, conn auth.Connection) error
		AuthorizationRequired(conn auth.Connection, reason credential.Reason, cause error) *credential.AuthorizationRequiredError
	}

	// Approver obtains out-of-band approvals.
	Approver interface {
		Authorize(ctx context.Context, in ciba.AuthorizeInput) (ciba.Decision, error)
	}

	// Options configures a Gate.
	Options struct {
		// Registry validates call arguments. Required.
		Registry *tools.Registry
		// Resolver serves Connected tools.
		Resolver CredentialResolver
		// Approver serves Approval tools.
		Approver Approver
		// Telemetry receives logs, metrics and spans.
		Telemetry telemetry.Set
	}

	// Gate guards tool execution.
	Gate struct {
		registry *tools.Registry
		resolver CredentialResolver
		approver Approver
		tel      telemetry.Set
	}
)

const (
	// KindOK reports that the tool ran and produced a result.
	KindOK Kind = "ok"
	// KindNeedsAuthorization reports that the user must connect or re-consent
	// to a provider before the tool can run.
	KindNeedsAuthorization Kind = "needs_authorization"
	// KindNeedsApproval reports a pending out-of-band approval request.
	KindNeedsApproval Kind = "needs_approval"
	// KindDenied reports that the user rejected the approval request.
	KindDenied Kind = "denied"
	// KindExpired reports that the approval request timed out unanswered.
	KindExpired Kind = "expired"
	// KindFailed reports invalid arguments, a resolver or approver error, or an
	// error returned by the tool itself.
	KindFailed Kind = "failed"
)

// New builds a Gate.
func New(opts Options) (*Gate, error) {
	if opts.Registry == nil {
		return nil, errors.New("gate: registry is required")
	}
	return &Gate{
		registry: opts.Registry,
		resolver: opts.Resolver,
		approver: opts.Approver,
		tel:      opts.Telemetry.WithDefaults(),
	}, nil
}

// Interrupted reports whether the outcome suspends the call.
func (o Outcome) Interrupted() bool {
	return o.Kind == KindNeedsAuthorization || o.Kind == KindNeedsApproval
}

// ModelText renders a terminal outcome as the tool result the model sees.
func (o Outcome) ModelText() (text string, isError bool) {
	switch o.Kind {
	case KindOK:
		txt, err := o.Result.Text()
		if err != nil {
			return toolerrors.FromError(err).ModelText(), true
		}
		return txt, false
	case KindDenied:
		return ciba.DeniedMessage, true
	case KindExpired:
		return ciba.ExpiredMessage, true
	case KindFailed:
		return toolerrors.FromError(o.Err).ModelText(), true
	default:
		return "", false
	}
}

// Call looks up the tool named by call and invokes it.
func (g *Gate) Call(ctx context.Context, call tools.Call) Outcome {
	tool, ok := g.registry.Lookup(call.Name)
	if !ok {
		return failed(toolerrors.Errorf("Unknown tool %q.", call.Name))
	}
	return g.Invoke(ctx, tool, call)
}

// Invoke runs tool for call if its authorization requirement is met.
func (g *Gate) Invoke(ctx context.Context, tool tools.Tool, call tools.Call) Outcome {
	ctx, span := g.tel.Tracer.Start(ctx, "gate.invoke")
	defer span.End()
	span.AddEvent("invoke", "tool", string(tool.Name), "tool_call_id", call.ID)

	out := g.invoke(ctx, tool, call)
	g.tel.Metrics.IncCounter("gate_invocation", 1, "tool", string(tool.Name), "outcome", string(out.Kind))
	if out.Kind == KindFailed {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "tool failed")
	}
	return out
}

func (g *Gate) invoke(ctx context.Context, tool tools.Tool, call tools.Call) Outcome {
	if err := g.registry.Validate(tool.Name, call.Args); err != nil {
		return failed(toolerrors.Wrap(err.Error(), err).WithHint("Fix the arguments and call the tool again."))
	}
	switch a := tool.Access.(type) {
	case tools.Plain:
		return g.run(ctx, tool, call)
	case tools.Connected:
		return g.connected(ctx, tool, call, a)
	case tools.Approval:
		return g.approval(ctx, tool, call, a)
	default:
		return failed(fmt.Errorf("gate: unsupported access %T for %s", a, tool.Name))
	}
}

func (g *Gate) connected(ctx context.Context, tool tools.Tool, call tools.Call, a tools.Connected) Outcome {
	if g.resolver == nil {
		return failed(&tools.ConfigurationError{Tool: tool.Name, Reason: "no credential resolver"})
	}
	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		return failed(err)
	}
	tok, err := g.resolver.Resolve(ctx, a.Connection, p)
	if err != nil {
		if are, ok := credential.AsAuthorizationRequired(err); ok {
			return needsAuthorization(are, call)
		}
		g.tel.Logger.Error(ctx, "credential resolution failed", "tool", string(tool.Name), "connection", a.Connection.ID, "err", err)
		return failed(toolerrors.Wrap(fmt.Sprintf("Could not obtain credentials for %s.", a.Connection.ID), err))
	}

	out := g.run(credential.WithToken(ctx, tok), tool, call)
	if out.Kind != KindFailed {
		return out
	}
	if are, ok := credential.AsAuthorizationRequired(out.Err); ok {
		return needsAuthorization(are, call)
	}
	if ue, ok := credential.RejectedCredential(out.Err); ok {
		// The vendor no longer accepts the token: drop it and ask the user
		// to reconnect.
		if err := g.resolver.Invalidate(ctx, p.Subject, a.Connection); err != nil {
			g.tel.Logger.Warn(ctx, "credential eviction failed", "connection", a.Connection.ID, "err", err)
		}
		g.tel.Logger.Info(ctx, "vendor rejected delegated token", "tool", string(tool.Name), "connection", a.Connection.ID, "status", ue.Status)
		return needsAuthorization(g.resolver.AuthorizationRequired(a.Connection, credential.ReasonRevoked, ue), call)
	}
	return out
}

func (g *Gate) approval(ctx context.Context, tool tools.Tool, call tools.Call, a tools.Approval) Outcome {
	if g.approver == nil {
		return failed(&tools.ConfigurationError{Tool: tool.Name, Reason: "no approver"})
	}
	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		return failed(err)
	}
	args, err := decodeArgs(call.Args)
	if err != nil {
		return failed(toolerrors.Wrap("Arguments must be a JSON object.", err))
	}
	d, err := g.approver.Authorize(ctx, ciba.AuthorizeInput{
		ToolCallKey: call.Key(),
		Principal:   p,
		Policy:      a.Policy,
		Args:        args,
	})
	switch {
	case errors.Is(err, ciba.ErrDenied):
		return Outcome{Kind: KindDenied, Err: err}
	case errors.Is(err, ciba.ErrExpired):
		g.tel.Logger.Info(ctx, "approval expired", "tool", string(tool.Name), "tool_call_id", call.ID)
		return Outcome{Kind: KindExpired, Err: err}
	case errors.Is(err, ciba.ErrAlreadyConsumed):
		return failed(toolerrors.Wrap(AlreadyCompletedMessage, err))
	case err != nil:
		g.tel.Logger.Error(ctx, "approval request failed", "tool", string(tool.Name), "err", err)
		return failed(toolerrors.Wrap("Could not request approval.", err))
	}

	switch d.Status {
	case ciba.StatusPending:
		in := interrupt.Interruption{
			Kind:           interrupt.KindApproval,
			Scopes:         d.Request.Scopes,
			BindingMessage: d.Request.BindingMessage,
			AuthReqID:      d.Request.ID,
			ExpiresAt:      d.Request.ExpiresAt,
			Call:           call,
		}
		return Outcome{Kind: KindNeedsApproval, Interruption: &in}
	case ciba.StatusApproved:
		return g.run(credential.WithToken(ctx, d.Token), tool, call)
	default:
		return failed(fmt.Errorf("gate: unexpected approval status %q", d.Status))
	}
}

func (g *Gate) run(ctx context.Context, tool tools.Tool, call tools.Call) Outcome {
	start := time.Now()
	res, err := tool.Handler(ctx, call)
	g.tel.Metrics.RecordTimer("tool_duration", time.Since(start), "tool", string(tool.Name))
	if err != nil {
		return failed(err)
	}
	return Outcome{Kind: KindOK, Result: res}
}

func needsAuthorization(are *credential.AuthorizationRequiredError, call tools.Call) Outcome {
	in := interrupt.FromAuthorizationRequired(are, call)
	return Outcome{Kind: KindNeedsAuthorization, Interruption: &in}
}

func failed(err error) Outcome {
	return Outcome{Kind: KindFailed, Err: err}
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}
