// Package pulse adapts goa.design/pulse streaming to the narrow interfaces the
// conversation event sink and follower subscriptions depend on.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures New.
	Options struct {
		// Redis backs the streams. Required.
		Redis *redis.Client
		// StreamMaxLen caps the entries kept per conversation stream. Zero
		// keeps the Pulse default.
		StreamMaxLen int
		// OperationTimeout bounds each publish. Zero leaves the caller
		// context unchanged.
		OperationTimeout time.Duration
	}

	// Client opens conversation streams.
	Client interface {
		// Stream returns the named stream, creating it on first use.
		Stream(name string) (Stream, error)
		// Close releases client resources. The Redis connection belongs to
		// the caller and stays open.
		Close(ctx context.Context) error
	}

	// Stream publishes events and opens consumer groups on one stream.
	Stream interface {
		// Add appends an event and returns the entry ID Redis assigned.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink joins or creates the consumer group name.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
	}

	// Sink reads a stream through one consumer group.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(ctx context.Context, ev *streaming.Event) error
		Close(ctx context.Context)
	}

	client struct {
		rdb     *redis.Client
		opts    []streamopts.Stream
		timeout time.Duration
	}

	stream struct {
		s       *streaming.Stream
		timeout time.Duration
	}

	sink struct {
		*streaming.Sink
	}
)

// New returns a Client publishing through opts.Redis.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	c := &client{rdb: opts.Redis, timeout: opts.OperationTimeout}
	if opts.StreamMaxLen > 0 {
		c.opts = append(c.opts, streamopts.WithStreamMaxLen(opts.StreamMaxLen))
	}
	return c, nil
}

func (c *client) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("stream name is required")
	}
	s, err := streaming.NewStream(name, c.rdb, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("open pulse stream %q: %w", name, err)
	}
	return &stream{s: s, timeout: c.timeout}, nil
}

func (c *client) Close(context.Context) error { return nil }

func (s *stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("event name is required")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	id, err := s.s.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse add %s: %w", event, err)
	}
	return id, nil
}

func (s *stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sk, err := s.s.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse sink %q: %w", name, err)
	}
	return sink{Sink: sk}, nil
}

func (s *stream) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Close stops the consumer.
func (s sink) Close(ctx context.Context) {
	s.Sink.Close(ctx)
}
