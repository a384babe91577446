package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/assistant0/assistant0/runtime/agent/gate"
	"github.com/assistant0/assistant0/runtime/agent/interrupt"
	"github.com/assistant0/assistant0/runtime/agent/model"
	"github.com/assistant0/assistant0/runtime/agent/session"
	"github.com/assistant0/assistant0/runtime/agent/stream"
	"github.com/assistant0/assistant0/runtime/agent/tools"
)

// turn is the mutable state of one RunTurn or Resume invocation.
type turn struct {
	r       *Runtime
	conv    session.Conversation
	sink    stream.Sink
	subject string
	// resumed is set once a pending call was claimed from the store, after
	// which the stored conversation must not be left without its results.
	resumed bool
}

// persistTimeout bounds the save of a failed turn, which runs detached from
// the request context.
const persistTimeout = 10 * time.Second

// loop alternates model calls and tool execution until the model answers
// without tool calls, a call is interrupted or the step limit is reached.
func (t *turn) loop(ctx context.Context) (TurnResult, error) {
	for step := 0; step < t.r.maxSteps; step++ {
		start := t.r.now()
		resp, err := t.r.model.Complete(ctx, model.Request{
			Model:    t.r.modelID,
			System:   t.r.prompt(t.r.now()),
			Messages: t.conv.Messages,
			Tools:    t.r.registry.Definitions(),
		})
		t.r.tel.Metrics.RecordTimer("model_call_duration", t.r.now().Sub(start), "model", t.r.modelID)
		if err != nil {
			return t.fail(ctx, fmt.Errorf("model call: %w", err))
		}
		msg := resp.Message
		msg.Role = model.RoleAssistant
		t.conv.Messages = append(t.conv.Messages, msg)
		position := len(t.conv.Messages) - 1

		if msg.Content != "" {
			t.emit(ctx, stream.EventAssistantReply, stream.AssistantReplyPayload{Text: msg.Content})
		}
		if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
			t.emit(ctx, stream.EventUsage, stream.UsagePayload{
				Model:        t.r.modelID,
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
			})
		}
		if len(msg.ToolCalls) == 0 {
			return t.complete(ctx, "")
		}

		paused, err := t.runCalls(ctx, msg.ToolCalls, position)
		if err != nil {
			return t.fail(ctx, err)
		}
		if paused != nil {
			return *paused, nil
		}
	}
	t.conv.Messages = append(t.conv.Messages, model.Message{Role: model.RoleAssistant, Content: StepLimitMessage})
	t.emit(ctx, stream.EventAssistantReply, stream.AssistantReplyPayload{Text: StepLimitMessage})
	return t.complete(ctx, "step limit reached")
}

// runCalls executes calls in order. position is the index of the assistant
// message holding them. When a call is interrupted the conversation is
// paused with the rest of the batch and the paused result is returned.
func (t *turn) runCalls(ctx context.Context, calls []model.ToolCall, position int) (*TurnResult, error) {
	for i, c := range calls {
		call := tools.Call{
			ID:             c.ID,
			Name:           tools.Ident(c.Name),
			Args:           c.ArgsOrEmpty(),
			ConversationID: t.conv.ID,
		}
		t.emit(ctx, stream.EventToolStart, stream.ToolStartPayload{ToolCallID: c.ID, ToolName: c.Name, Args: call.Args})
		start := t.r.now()
		out := t.r.gate.Call(ctx, call)
		elapsed := t.r.now().Sub(start)

		if out.Interrupted() {
			res, err := t.paused(ctx, c, calls[i+1:], position, *out.Interruption)
			if err != nil {
				return nil, err
			}
			t.emit(ctx, stream.EventToolEnd, stream.ToolEndPayload{
				ToolCallID: c.ID, ToolName: c.Name, Outcome: string(out.Kind), Duration: elapsed,
			})
			t.emit(ctx, stream.EventInterruption, stream.InterruptionPayload{Directive: *res.Directive})
			t.emit(ctx, stream.EventTurnEnd, stream.TurnEndPayload{Status: stream.TurnPaused})
			return &res, nil
		}
		text, isErr := out.ModelText()
		t.conv.Messages = append(t.conv.Messages, model.ToolResult(c, text, isErr))
		end := stream.ToolEndPayload{ToolCallID: c.ID, ToolName: c.Name, Outcome: string(out.Kind), Duration: elapsed}
		if isErr {
			end.Error = text
		}
		if out.Kind == gate.KindFailed {
			t.r.tel.Logger.Warn(ctx, "tool call failed", "tool", c.Name, "tool_call_id", c.ID, "err", out.Err)
		}
		t.emit(ctx, stream.EventToolEnd, end)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if err := t.save(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

// paused suspends the conversation on call and signs the resume token.
func (t *turn) paused(ctx context.Context, call model.ToolCall, remaining []model.ToolCall, position int, in interrupt.Interruption) (TurnResult, error) {
	pending := &session.PendingCall{
		Call:      call,
		Remaining: append([]model.ToolCall(nil), remaining...),
		Turn:      t.conv.Turn,
		Position:  position,
		Kind:      string(in.Kind),
		AuthReqID: in.AuthReqID,
		CreatedAt: t.r.now().UTC(),
	}
	if in.Connection.ID != "" {
		pending.Connection = in.Connection.ID
	}
	t.conv.Pending = pending
	t.conv.Status = session.StatusPaused

	token, err := t.r.signer.Sign(t.subject, interrupt.ResumeClaims{
		ConversationID: t.conv.ID,
		Turn:           t.conv.Turn,
		ToolCallID:     call.ID,
		ToolName:       call.Name,
		Args:           call.ArgsOrEmpty(),
		Position:       position,
	})
	if err != nil {
		return TurnResult{}, err
	}
	if err := t.save(ctx); err != nil {
		return TurnResult{}, err
	}
	t.r.tel.Metrics.IncCounter("turn_paused", 1, "kind", string(in.Kind))
	t.r.tel.Logger.Info(ctx, "turn paused", "conversation", t.conv.ID, "tool", call.Name, "kind", string(in.Kind))
	d := in.Directive(token)
	return TurnResult{
		ConversationID: t.conv.ID,
		Turn:           t.conv.Turn,
		Status:         stream.TurnPaused,
		Reply:          lastReply(t.conv.Messages),
		Directive:      &d,
	}, nil
}

func (t *turn) complete(ctx context.Context, note string) (TurnResult, error) {
	t.conv.Status = session.StatusActive
	if err := t.save(ctx); err != nil {
		return t.fail(ctx, err)
	}
	t.emit(ctx, stream.EventTurnEnd, stream.TurnEndPayload{Status: stream.TurnCompleted, Message: note})
	return TurnResult{
		ConversationID: t.conv.ID,
		Turn:           t.conv.Turn,
		Status:         stream.TurnCompleted,
		Reply:          lastReply(t.conv.Messages),
	}, nil
}

// fail ends the turn with a generic apology. Details stay in the logs.
// Cancellation is returned to the caller instead. Either way a resumed turn
// stores its history: the claimed call is no longer pending and its result
// must not be lost.
func (t *turn) fail(ctx context.Context, err error) (TurnResult, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if t.resumed {
			t.persist(ctx)
		}
		return TurnResult{}, err
	}
	_, span := t.r.tel.Tracer.Start(ctx, "runtime.fail")
	span.RecordError(err)
	span.SetStatus(codes.Error, "turn failed")
	span.End()
	t.r.tel.Metrics.IncCounter("turn_failed", 1)
	t.r.tel.Logger.Error(ctx, "turn failed", "conversation", t.conv.ID, "turn", t.conv.Turn, "err", err)

	t.answerOpenCalls()
	t.conv.Messages = append(t.conv.Messages, model.Message{Role: model.RoleAssistant, Content: ApologyMessage})
	t.persist(ctx)
	t.emit(ctx, stream.EventAssistantReply, stream.AssistantReplyPayload{Text: ApologyMessage})
	t.emit(ctx, stream.EventTurnEnd, stream.TurnEndPayload{Status: stream.TurnFailed})
	return TurnResult{
		ConversationID: t.conv.ID,
		Turn:           t.conv.Turn,
		Status:         stream.TurnFailed,
		Reply:          ApologyMessage,
	}, nil
}

// answerOpenCalls gives every tool call without a result an error result so
// the history stays acceptable to the model providers. A failed turn drops
// its pending call.
func (t *turn) answerOpenCalls() {
	t.conv.Pending = nil
	t.conv.Status = session.StatusActive
	answered := make(map[string]bool)
	for _, m := range t.conv.Messages {
		if m.Role == model.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	var open []model.ToolCall
	for _, m := range t.conv.Messages {
		for _, c := range m.ToolCalls {
			if !answered[c.ID] {
				open = append(open, c)
			}
		}
	}
	for _, c := range open {
		t.conv.Messages = append(t.conv.Messages, model.ToolResult(c, InterruptedCallMessage, true))
	}
}

// persist saves the conversation of a failed turn. It outlives a canceled
// request context and only logs failures.
func (t *turn) persist(ctx context.Context) {
	t.answerOpenCalls()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := t.save(ctx); err != nil {
		t.r.tel.Logger.Error(ctx, "save failed turn", "conversation", t.conv.ID, "err", err)
	}
}

func (t *turn) save(ctx context.Context) error {
	saved, err := t.r.sessions.Save(ctx, t.conv)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	t.conv = saved
	return nil
}

// emit sends an event to the sink. Delivery failures do not abort the turn.
func (t *turn) emit(ctx context.Context, typ stream.EventType, payload any) {
	if t.sink == nil {
		return
	}
	ev := stream.NewEvent(typ, t.conv.ID, strconv.Itoa(t.conv.Turn), payload)
	if err := t.sink.Send(ctx, ev); err != nil {
		t.r.tel.Logger.Warn(ctx, "event delivery failed", "type", string(typ), "err", err)
	}
}
