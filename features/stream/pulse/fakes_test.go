package pulse

import (
	"context"
	"sync"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/assistant0/assistant0/features/stream/pulse/clients/pulse"
)

type added struct {
	stream  string
	event   string
	payload []byte
}

type fakeClient struct {
	mu        sync.Mutex
	added     []added
	addErr    error
	streamErr error
	sink      *fakeSink
	closed    bool
}

func (c *fakeClient) Stream(name string) (clientspulse.Stream, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return &fakeStream{client: c, name: name}, nil
}

func (c *fakeClient) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeStream struct {
	client *fakeClient
	name   string
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if s.client.addErr != nil {
		return "", s.client.addErr
	}
	s.client.added = append(s.client.added, added{stream: s.name, event: event, payload: payload})
	return "1-0", nil
}

func (s *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (clientspulse.Sink, error) {
	return s.client.sink, nil
}

type fakeSink struct {
	ch     chan *streaming.Event
	mu     sync.Mutex
	acked  []string
	closed bool
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, evt.ID)
	return nil
}

func (s *fakeSink) Close(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
