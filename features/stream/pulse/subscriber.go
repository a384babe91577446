package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/assistant0/assistant0/features/stream/pulse/clients/pulse"
	"github.com/assistant0/assistant0/runtime/agent/stream"
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse into events.
	EnvelopeDecoder func([]byte) (stream.Event, error)

	// SubscriberOptions configures NewSubscriber.
	SubscriberOptions struct {
		// Client reads the streams. Required.
		Client clientspulse.Client
		// SinkName is the consumer group. Subscribers sharing a name split
		// the events between them. Defaults to "assistant0_subscriber".
		SinkName string
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
		// Decoder defaults to DecodeEnvelope.
		Decoder EnvelopeDecoder
	}

	// Subscriber reads conversation streams through one consumer group.
	Subscriber struct {
		client clientspulse.Client
		group  string
		buffer int
		decode EnvelopeDecoder
	}

	// subscription pumps one sink into the events channel.
	subscription struct {
		sink   clientspulse.Sink
		decode EnvelopeDecoder
		events chan stream.Event
		errs   chan error
	}
)

const (
	defaultSubscriberGroup  = "assistant0_subscriber"
	defaultSubscriberBuffer = 64
)

// NewSubscriber returns a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{
		client: opts.Client,
		group:  opts.SinkName,
		buffer: opts.Buffer,
		decode: opts.Decoder,
	}
	if s.group == "" {
		s.group = defaultSubscriberGroup
	}
	if s.buffer <= 0 {
		s.buffer = defaultSubscriberBuffer
	}
	if s.decode == nil {
		s.decode = DecodeEnvelope
	}
	return s, nil
}

// Subscribe reads streamName until ctx ends, the stream closes or a payload
// fails to decode. Every delivered event is acknowledged. cancel closes the
// consumer and, once the reader returns, both channels.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamName string,
	opts ...streamopts.Sink,
) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamName)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.group, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	sub := &subscription{
		sink:   sink,
		decode: s.decode,
		events: make(chan stream.Event, s.buffer),
		errs:   make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(ctx)
	go sub.run(ctx)
	return sub.events, sub.errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.events)
	defer close(s.errs)
	in := s.sink.Subscribe()
	for {
		var ev *streaming.Event
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			ev = e
		}
		event, err := s.decode(ev.Payload)
		if err != nil {
			s.errs <- fmt.Errorf("pulse decode payload: %w", err)
			return
		}
		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
		if err := s.sink.Ack(ctx, ev); err != nil {
			s.errs <- fmt.Errorf("pulse ack: %w", err)
			return
		}
	}
}

// DecodeEnvelope decodes a stream.Envelope, keeping the payload as raw JSON.
func DecodeEnvelope(payload []byte) (stream.Event, error) {
	var env struct {
		stream.Envelope
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, errors.New("envelope missing type")
	}
	return stream.NewEvent(env.Type, env.ConversationID, env.TurnID, env.Payload), nil
}
