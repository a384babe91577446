// Package pulse publishes conversation events to goa.design/pulse streams so
// that updates produced outside an open chat request, such as an approval
// resolved by the background watcher, still reach the UI. Services build a
// Redis client, pass it to the Pulse client and hand the sink to the runtime
// next to the HTTP sink.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/assistant0/assistant0/features/stream/pulse/clients/pulse"
	"github.com/assistant0/assistant0/runtime/agent/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// `conversation/<ConversationID>`.
		StreamID func(stream.Event) (string, error)
		// OnPublished runs after an event was added to its stream. Optional.
		OnPublished func(ctx context.Context, ev PublishedEvent) error
		// Now overrides the envelope timestamp clock in tests.
		Now func() time.Time
	}

	// PublishedEvent describes an event written to Pulse.
	PublishedEvent struct {
		Event    stream.Event
		StreamID string
		EntryID  string
	}

	// Sink publishes conversation events into Pulse streams. Safe for
	// concurrent Send calls.
	Sink struct {
		client      pulse.Client
		streamID    func(stream.Event) (string, error)
		onPublished func(context.Context, PublishedEvent) error
		now         func() time.Time
	}
)

// NewSink constructs a Pulse-backed stream sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Sink{
		client:      opts.Client,
		streamID:    opts.StreamID,
		onPublished: opts.OnPublished,
		now:         opts.Now,
	}
	if s.streamID == nil {
		s.streamID = ConversationStreamID
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Send publishes the event envelope to the derived stream.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	streamID, err := s.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(stream.Wrap(event, s.now()))
	if err != nil {
		return err
	}
	id, err := handle.Add(ctx, string(event.Type()), payload)
	if err != nil {
		return err
	}
	if s.onPublished != nil {
		return s.onPublished(ctx, PublishedEvent{Event: event, StreamID: streamID, EntryID: id})
	}
	return nil
}

// Close releases resources owned by the sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// ConversationStreamID names the stream of the event's conversation.
func ConversationStreamID(event stream.Event) (string, error) {
	if event.ConversationID() == "" {
		return "", errors.New("stream event missing conversation id")
	}
	return StreamName(event.ConversationID()), nil
}

// StreamName returns the Pulse stream of a conversation.
func StreamName(conversationID string) string {
	return "conversation/" + conversationID
}
