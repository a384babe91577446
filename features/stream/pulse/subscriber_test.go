package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"github.com/assistant0/assistant0/runtime/agent/stream"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	sub, err := NewSubscriber(SubscriberOptions{Client: &fakeClient{sink: sink}, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "conversation/c1")
	require.NoError(t, err)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"type":           "assistant_reply",
		"conversationId": "c1",
		"payload":        map[string]string{"text": "hi"},
	})
	require.NoError(t, err)
	sink.ch <- &streaming.Event{ID: "1-0", Payload: payload}
	close(sink.ch)

	e := <-events
	require.Equal(t, stream.EventAssistantReply, e.Type())
	require.Equal(t, "c1", e.ConversationID())
	var body map[string]string
	require.NoError(t, json.Unmarshal(e.Payload().(json.RawMessage), &body))
	require.Equal(t, "hi", body["text"])
	_, open := <-events
	require.False(t, open)
	require.NoError(t, <-errs)
	require.Equal(t, []string{"1-0"}, sink.acked)
}

func TestSubscribeDecoderError(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	sub, err := NewSubscriber(SubscriberOptions{
		Client: &fakeClient{sink: sink},
		Decoder: func([]byte) (stream.Event, error) {
			return nil, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "conversation/c1")
	require.NoError(t, err)
	defer cancel()
	sink.ch <- &streaming.Event{Payload: []byte("{}")}

	require.EqualError(t, <-errs, "pulse decode payload: decode error")
	_, open := <-events
	require.False(t, open)
}

func TestFollowReadsConversationStream(t *testing.T) {
	sink := &fakeSink{ch: make(chan *streaming.Event, 1)}
	streams, err := NewStreams(StreamsOptions{Client: &fakeClient{sink: sink}})
	require.NoError(t, err)

	events, _, cancel, err := streams.Follow(context.Background(), "c1")
	require.NoError(t, err)

	sink.ch <- &streaming.Event{ID: "1-0", Payload: []byte(`{"type":"turn_end","conversationId":"c1"}`)}
	e := <-events
	require.Equal(t, "c1", e.ConversationID())

	cancel()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.True(t, sink.closed)
}
