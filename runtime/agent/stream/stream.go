// Package stream delivers client-facing turn updates: assistant replies,
// tool progress, interruptions and the end of a turn. A Sink marshals events
// into its transport (NDJSON over HTTP, Pulse streams).
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/assistant0/assistant0/runtime/agent/interrupt"
)

type (
	// Sink delivers events to a transport. Implementations must be safe for
	// concurrent use.
	Sink interface {
		// Send publishes event.
		Send(ctx context.Context, event Event) error
		// Close releases the sink. Later Send calls fail.
		Close(ctx context.Context) error
	}

	// Event is a client-facing update.
	Event interface {
		Type() EventType
		// ConversationID identifies the conversation.
		ConversationID() string
		// TurnID identifies the turn within the conversation.
		TurnID() string
		// Payload returns the JSON-serializable event data.
		Payload() any
	}

	// Base carries the common event metadata.
	Base struct {
		t    EventType
		conv string
		turn string
		p    any
	}

	// EventType enumerates event kinds.
	EventType string
)

const (
	EventTurnStarted      EventType = "turn_started"
	EventAssistantReply   EventType = "assistant_reply"
	EventToolStart        EventType = "tool_start"
	EventToolEnd          EventType = "tool_end"
	EventInterruption     EventType = "interruption"
	EventApprovalResolved EventType = "approval_resolved"
	EventUsage            EventType = "usage"
	EventTurnEnd          EventType = "turn_end"
)

// Turn end statuses.
const (
	TurnCompleted = "completed"
	TurnPaused    = "paused"
	TurnFailed    = "failed"
)

type (
	// TurnStartedPayload opens a turn.
	TurnStartedPayload struct {
		Turn    int  `json:"turn"`
		Resumed bool `json:"resumed,omitempty"`
	}

	// AssistantReplyPayload carries assistant text.
	AssistantReplyPayload struct {
		Text string `json:"text"`
	}

	// ToolStartPayload announces a tool call.
	ToolStartPayload struct {
		ToolCallID string          `json:"toolCallId"`
		ToolName   string          `json:"toolName"`
		Args       json.RawMessage `json:"args,omitempty"`
	}

	// ToolEndPayload reports the outcome of a tool call.
	ToolEndPayload struct {
		ToolCallID string        `json:"toolCallId"`
		ToolName   string        `json:"toolName"`
		Outcome    string        `json:"outcome"`
		Error      string        `json:"error,omitempty"`
		Duration   time.Duration `json:"durationNs,omitempty"`
	}

	// InterruptionPayload wraps the UI directive.
	InterruptionPayload struct {
		Directive interrupt.Directive `json:"directive"`
	}

	// ApprovalResolvedPayload reports the outcome of a pending approval.
	ApprovalResolvedPayload struct {
		AuthReqID  string `json:"authReqId"`
		ToolCallID string `json:"toolCallId,omitempty"`
		Status     string `json:"status"`
	}

	// UsagePayload reports model token usage.
	UsagePayload struct {
		Model        string `json:"model,omitempty"`
		InputTokens  int    `json:"inputTokens"`
		OutputTokens int    `json:"outputTokens"`
	}

	// TurnEndPayload closes a turn.
	TurnEndPayload struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}
)

// NewEvent builds an event of type t.
func NewEvent(t EventType, conversationID, turnID string, payload any) Base {
	return Base{t: t, conv: conversationID, turn: turnID, p: payload}
}

// Type implements Event.
func (e Base) Type() EventType { return e.t }

// ConversationID implements Event.
func (e Base) ConversationID() string { return e.conv }

// TurnID implements Event.
func (e Base) TurnID() string { return e.turn }

// Payload implements Event.
func (e Base) Payload() any { return e.p }

// Envelope is the wire form of an event.
type Envelope struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	TurnID         string    `json:"turnId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        any       `json:"payload,omitempty"`
}

// Wrap converts event into its wire envelope stamped with at.
func Wrap(event Event, at time.Time) Envelope {
	return Envelope{
		Type:           event.Type(),
		ConversationID: event.ConversationID(),
		TurnID:         event.TurnID(),
		Timestamp:      at.UTC(),
		Payload:        event.Payload(),
	}
}
