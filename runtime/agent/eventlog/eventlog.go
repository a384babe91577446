// Package eventlog keeps a durable, append-only history of the events
// published while a conversation runs: replies, tool calls, interruptions and
// approval outcomes. Callers page through a conversation's history with
// opaque cursors.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/assistant0/assistant0/runtime/agent/stream"
)

type (
	// Event is a recorded stream event.
	Event struct {
		// ID is assigned by the store. IDs are opaque and ordered within a
		// conversation.
		ID             string
		ConversationID string
		TurnID         string
		Type           stream.EventType
		// Payload is the JSON encoding of the event payload.
		Payload   json.RawMessage
		Timestamp time.Time
	}

	// Page is a forward page of events, oldest first.
	Page struct {
		Events []*Event
		// NextCursor is empty on the last page.
		NextCursor string
	}

	// Store is an append-only event store.
	Store interface {
		// Append persists e and sets its ID.
		Append(ctx context.Context, e *Event) error
		// List returns the page of events of conversationID that follows
		// cursor. An empty cursor starts at the beginning. limit must be
		// positive.
		List(ctx context.Context, conversationID, cursor string, limit int) (Page, error)
	}

	// Sink records every event it receives into a Store.
	Sink struct {
		store Store
		now   func() time.Time
	}
)

// ErrInvalidCursor is returned by List when the cursor was not issued by the
// store.
var ErrInvalidCursor = errors.New("eventlog: invalid cursor")

// NewSink returns a stream.Sink appending to store. now defaults to
// time.Now.
func NewSink(store Store, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{store: store, now: now}
}

// Send implements stream.Sink.
func (s *Sink) Send(ctx context.Context, ev stream.Event) error {
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("eventlog: encode %s payload: %w", ev.Type(), err)
	}
	return s.store.Append(ctx, &Event{
		ConversationID: ev.ConversationID(),
		TurnID:         ev.TurnID(),
		Type:           ev.Type(),
		Payload:        payload,
		Timestamp:      s.now().UTC(),
	})
}

// Close implements stream.Sink.
func (s *Sink) Close(context.Context) error { return nil }

// Validate checks the fields every store requires.
func (e *Event) Validate() error {
	switch {
	case e == nil:
		return errors.New("eventlog: event is required")
	case e.ConversationID == "":
		return errors.New("eventlog: conversation id is required")
	case e.Type == "":
		return errors.New("eventlog: event type is required")
	case e.Timestamp.IsZero():
		return errors.New("eventlog: timestamp is required")
	}
	return nil
}
