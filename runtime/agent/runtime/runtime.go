// Package runtime runs the assistant turn loop: it calls the model, routes
// requested tool calls through the gate, persists the conversation and
// suspends the turn when a call needs the user to connect an account or
// approve an action. Resume re-enters the exact suspended call.
package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/assistant0/assistant0/runtime/agent/gate"
	"github.com/assistant0/assistant0/runtime/agent/interrupt"
	"github.com/assistant0/assistant0/runtime/agent/model"
	"github.com/assistant0/assistant0/runtime/agent/session"
	"github.com/assistant0/assistant0/runtime/agent/stream"
	"github.com/assistant0/assistant0/runtime/agent/telemetry"
	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
)

const (
	defaultMaxSteps = 10

	// ApologyMessage ends a turn that failed unexpectedly.
	ApologyMessage = "Sorry, something went wrong while handling your request. Please try again."
	// StepLimitMessage ends a turn that used too many model steps.
	StepLimitMessage = "I stopped because this request needed too many steps. Please try a simpler request."
	// AbandonedCallMessage answers a suspended call the user moved past.
	AbandonedCallMessage = "The user did not complete the required authorization for this call."
	// InterruptedCallMessage answers a call left without a result by a
	// failed or canceled turn.
	InterruptedCallMessage = "The tool call was interrupted before it completed."
)

// ErrEmptyMessage is returned when a turn has no user text.
var ErrEmptyMessage = errors.New("runtime: message is empty")

type (
	// Options configures a Runtime.
	Options struct {
		// Model is the chat model. Required.
		Model model.Client
		// ModelID is passed to the model client.
		ModelID string
		// Registry lists the tools offered to the model. Required.
		Registry *tools.Registry
		// Gate guards tool execution. Required.
		Gate *gate.Gate
		// Sessions persists conversations. Required.
		Sessions session.Store
		// Resume signs resume tokens. Required.
		Resume *interrupt.Signer
		// MaxSteps bounds model calls per turn. Defaults to 10.
		MaxSteps int
		// SystemPrompt renders the system prompt. Defaults to SystemPrompt.
		SystemPrompt func(now time.Time) string
		// Telemetry receives logs, metrics and spans.
		Telemetry telemetry.Set
		// Now overrides the clock in tests.
		Now func() time.Time
	}

	// Runtime executes turns.
	Runtime struct {
		model    model.Client
		modelID  string
		registry *tools.Registry
		gate     *gate.Gate
		sessions session.Store
		signer   *interrupt.Signer
		maxSteps int
		prompt   func(time.Time) string
		tel      telemetry.Set
		now      func() time.Time
	}

	// TurnInput starts a turn.
	TurnInput struct {
		// ConversationID continues a conversation. Empty starts a new one.
		ConversationID string
		// Message is the user text.
		Message string
	}

	// TurnResult summarizes a finished or paused turn.
	TurnResult struct {
		ConversationID string
		Turn           int
		// Status is one of stream.TurnCompleted, TurnPaused or TurnFailed.
		Status string
		// Reply is the last assistant text.
		Reply string
		// Directive is set when the turn paused.
		Directive *interrupt.Directive
		// Duplicate reports a resume of a call that was already resumed.
		Duplicate bool
	}
)

// SystemPrompt is the default assistant system prompt.
func SystemPrompt(now time.Time) string {
	return "You are a personal assistant named Assistant0. You are a helpful assistant that can answer " +
		"questions and help with tasks. You have access to a set of tools, use the tools as needed to " +
		"answer the user's question. Render the email body as a markdown block, do not wrap it in code " +
		"blocks. The current date and time is " + now.Format(time.RFC1123) + "."
}

// New builds a Runtime.
func New(opts Options) (*Runtime, error) {
	switch {
	case opts.Model == nil:
		return nil, errors.New("runtime: model is required")
	case opts.Registry == nil:
		return nil, errors.New("runtime: registry is required")
	case opts.Gate == nil:
		return nil, errors.New("runtime: gate is required")
	case opts.Sessions == nil:
		return nil, errors.New("runtime: session store is required")
	case opts.Resume == nil:
		return nil, errors.New("runtime: resume signer is required")
	}
	r := &Runtime{
		model:    opts.Model,
		modelID:  opts.ModelID,
		registry: opts.Registry,
		gate:     opts.Gate,
		sessions: opts.Sessions,
		signer:   opts.Resume,
		maxSteps: opts.MaxSteps,
		prompt:   opts.SystemPrompt,
		tel:      opts.Telemetry.WithDefaults(),
		now:      opts.Now,
	}
	if r.maxSteps <= 0 {
		r.maxSteps = defaultMaxSteps
	}
	if r.prompt == nil {
		r.prompt = SystemPrompt
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Conversation returns the conversation id owned by the principal in ctx.
func (r *Runtime) Conversation(ctx context.Context, id string) (session.Conversation, error) {
	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		return session.Conversation{}, err
	}
	return r.load(ctx, id, p)
}

// RunTurn appends the user message and runs the loop until the model
// answers or a tool call is interrupted. Events are sent to sink.
func (r *Runtime) RunTurn(ctx context.Context, in TurnInput, sink stream.Sink) (TurnResult, error) {
	if in.Message == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	ctx, span := r.tel.Tracer.Start(ctx, "runtime.turn")
	defer span.End()

	var conv session.Conversation
	if in.ConversationID == "" {
		conv, err = r.sessions.Create(ctx, session.Conversation{ID: uuid.NewString(), Subject: p.Subject})
	} else {
		conv, err = r.load(ctx, in.ConversationID, p)
		if errors.Is(err, session.ErrConversationNotFound) {
			conv, err = r.sessions.Create(ctx, session.Conversation{ID: in.ConversationID, Subject: p.Subject})
		}
	}
	if err != nil {
		return TurnResult{}, err
	}
	if conv.Pending != nil {
		abandon(&conv)
	}
	conv.Turn++
	conv.Messages = append(conv.Messages, model.UserMessage(in.Message))
	conv.Status = session.StatusActive

	t := &turn{r: r, conv: conv, sink: sink, subject: p.Subject}
	t.emit(ctx, stream.EventTurnStarted, stream.TurnStartedPayload{Turn: conv.Turn})
	return t.loop(ctx)
}

// Resume re-enters the tool call identified by the resume token, then
// continues the loop. Resuming a call twice runs it at most once: the second
// resume reports Duplicate.
func (r *Runtime) Resume(ctx context.Context, resumeToken string, sink stream.Sink) (TurnResult, error) {
	p, err := auth.PrincipalFromContext(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	claims, err := r.signer.Verify(p.Subject, resumeToken)
	if err != nil {
		return TurnResult{}, err
	}
	ctx, span := r.tel.Tracer.Start(ctx, "runtime.resume")
	defer span.End()

	conv, err := r.load(ctx, claims.ConversationID, p)
	if err != nil {
		return TurnResult{}, err
	}
	if conv.Pending == nil || conv.Pending.Call.ID != claims.ToolCallID {
		return r.duplicate(conv), nil
	}
	if conv.Pending.Call.Name != claims.ToolName || !sameJSON(conv.Pending.Call.Args, claims.Args) {
		return TurnResult{}, fmt.Errorf("%w: call does not match", interrupt.ErrInvalidResumeToken)
	}
	claimed, pending, err := r.sessions.ClaimPending(ctx, conv.ID, claims.ToolCallID)
	if errors.Is(err, session.ErrNoPendingCall) {
		return r.duplicate(conv), nil
	}
	if err != nil {
		return TurnResult{}, err
	}

	t := &turn{r: r, conv: claimed, sink: sink, subject: p.Subject, resumed: true}
	t.emit(ctx, stream.EventTurnStarted, stream.TurnStartedPayload{Turn: claimed.Turn, Resumed: true})
	calls := append([]model.ToolCall{pending.Call}, pending.Remaining...)
	paused, err := t.runCalls(ctx, calls, pending.Position)
	if err != nil {
		return t.fail(ctx, err)
	}
	if paused != nil {
		return *paused, nil
	}
	return t.loop(ctx)
}

func (r *Runtime) load(ctx context.Context, id string, p auth.Principal) (session.Conversation, error) {
	conv, err := r.sessions.Load(ctx, id)
	if err != nil {
		return session.Conversation{}, err
	}
	if conv.Subject != p.Subject {
		// Other users' conversations do not exist for the caller.
		return session.Conversation{}, session.ErrConversationNotFound
	}
	return conv, nil
}

func (r *Runtime) duplicate(conv session.Conversation) TurnResult {
	return TurnResult{
		ConversationID: conv.ID,
		Turn:           conv.Turn,
		Status:         stream.TurnCompleted,
		Reply:          lastReply(conv.Messages),
		Duplicate:      true,
	}
}

// abandon answers the suspended calls of a conversation the user moved past
// so every tool call in the history keeps a result.
func abandon(conv *session.Conversation) {
	p := conv.Pending
	for _, c := range append([]model.ToolCall{p.Call}, p.Remaining...) {
		conv.Messages = append(conv.Messages, model.ToolResult(c, AbandonedCallMessage, true))
	}
	conv.Pending = nil
}

func lastReply(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return ""
}

func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if len(a) == 0 {
		a = json.RawMessage("{}")
	}
	if len(b) == 0 {
		b = json.RawMessage("{}")
	}
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
