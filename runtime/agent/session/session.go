// Package session defines the durable conversation state of the assistant.
//
// A Conversation owns the message history of one user chat. When a tool call
// is interrupted the conversation records it as its PendingCall and becomes
// paused until the call is resumed.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/assistant0/assistant0/runtime/agent/model"
)

type (
	// Conversation is the persisted chat state.
	Conversation struct {
		// ID is the stable conversation identifier.
		ID string
		// Subject is the user owning the conversation.
		Subject string
		// Status is StatusActive or StatusPaused.
		Status Status
		// Turn counts user turns.
		Turn int
		// Messages is the model-facing history.
		Messages []model.Message
		// Pending is the suspended tool call of a paused conversation.
		Pending *PendingCall
		// Version increases on every write. Save rejects stale versions.
		Version   int64
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// PendingCall is a suspended tool call awaiting user action.
	PendingCall struct {
		// Call is the interrupted call.
		Call model.ToolCall
		// Remaining are the calls of the same assistant message that were not
		// run yet.
		Remaining []model.ToolCall
		// Turn is the turn that produced the call.
		Turn int
		// Position is the index of the assistant message holding the call.
		Position int
		// Kind is the interruption kind.
		Kind string
		// Connection is the account the call waits on, if any.
		Connection string
		// AuthReqID is the pending approval request, if any.
		AuthReqID string
		CreatedAt time.Time
	}

	// Store persists conversations.
	Store interface {
		// Create stores a new conversation. It returns ErrConversationExists
		// when the id is taken.
		Create(ctx context.Context, c Conversation) (Conversation, error)
		// Load returns the conversation or ErrConversationNotFound.
		Load(ctx context.Context, id string) (Conversation, error)
		// Save replaces the conversation when its Version matches the stored
		// one and returns it with the next version. A stale write returns
		// ErrConflict.
		Save(ctx context.Context, c Conversation) (Conversation, error)
		// ClaimPending atomically clears the pending call when it matches
		// toolCallID. Concurrent claims of the same call observe exactly one
		// success; the others get ErrNoPendingCall.
		ClaimPending(ctx context.Context, id, toolCallID string) (Conversation, PendingCall, error)
	}

	// Status is the conversation lifecycle state.
	Status string
)

const (
	// StatusActive accepts new user messages.
	StatusActive Status = "active"
	// StatusPaused waits for a pending tool call to be resumed.
	StatusPaused Status = "paused"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
	ErrConflict             = errors.New("conversation was modified concurrently")
	ErrNoPendingCall        = errors.New("conversation has no matching pending call")
)

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = cloneMessages(c.Messages)
	if c.Pending != nil {
		p := c.Pending.Clone()
		out.Pending = &p
	}
	return out
}

// Clone returns a deep copy of p.
func (p PendingCall) Clone() PendingCall {
	out := p
	out.Call = cloneCall(p.Call)
	if p.Remaining != nil {
		out.Remaining = make([]model.ToolCall, len(p.Remaining))
		for i, c := range p.Remaining {
			out.Remaining[i] = cloneCall(c)
		}
	}
	return out
}

func cloneMessages(in []model.Message) []model.Message {
	if in == nil {
		return nil
	}
	out := make([]model.Message, len(in))
	for i, m := range in {
		out[i] = m
		if m.ToolCalls != nil {
			out[i].ToolCalls = make([]model.ToolCall, len(m.ToolCalls))
			for j, c := range m.ToolCalls {
				out[i].ToolCalls[j] = cloneCall(c)
			}
		}
	}
	return out
}

func cloneCall(c model.ToolCall) model.ToolCall {
	c.Args = append([]byte(nil), c.Args...)
	return c
}
