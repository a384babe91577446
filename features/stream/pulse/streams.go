package pulse

import (
	"context"
	"errors"

	"github.com/google/uuid"

	clientspulse "github.com/assistant0/assistant0/features/stream/pulse/clients/pulse"
	"github.com/assistant0/assistant0/runtime/agent/stream"
)

// FollowerGroupPrefix prefixes the consumer groups created by Follow.
const FollowerGroupPrefix = "assistant0_follow_"

// Streams shares one Pulse client between the publishing sink and the
// subscribers created for event followers.
type Streams struct {
	sink   *Sink
	client clientspulse.Client
}

// StreamsOptions configures NewStreams.
type StreamsOptions struct {
	// Client is used for both publishing and subscribing. Required.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink.
	Sink Options
}

// NewStreams constructs the publishing sink and subscriber factory.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{sink: sink, client: opts.Client}, nil
}

// Sink returns the publishing sink.
func (s *Streams) Sink() stream.Sink {
	return s.sink
}

// NewSubscriber constructs a subscriber reusing the shared client.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// Follow streams the live events of a conversation. Each call reads through
// a fresh consumer group so concurrent followers all receive every event.
func (s *Streams) Follow(ctx context.Context, conversationID string) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	sub, err := s.NewSubscriber(SubscriberOptions{SinkName: FollowerGroupPrefix + uuid.NewString()})
	if err != nil {
		return nil, nil, nil, err
	}
	return sub.Subscribe(ctx, StreamName(conversationID))
}

// Close shuts down the publishing sink.
func (s *Streams) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
