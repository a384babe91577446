package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

type failingSink struct{ err error }

func (f failingSink) Send(context.Context, Event) error { return f.err }
func (f failingSink) Close(context.Context) error       { return f.err }

func TestFanoutDeliversInOrderAndStopsOnError(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := NewFanout(a, nil, b)
	ev := NewEvent(EventAssistantReply, "conv-1", "turn-1", AssistantReplyPayload{Text: "hi"})
	require.NoError(t, f.Send(t.Context(), ev))
	require.Equal(t, []EventType{EventAssistantReply}, a.Types())
	require.Equal(t, []EventType{EventAssistantReply}, b.Types())

	boom := errors.New("boom")
	c := &Recorder{}
	f = NewFanout(failingSink{err: boom}, c)
	require.ErrorIs(t, f.Send(t.Context(), ev), boom)
	require.Empty(t, c.Types())
	require.ErrorIs(t, f.Close(t.Context()), boom)
}

func TestRecorderClosed(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Close(t.Context()))
	require.ErrorIs(t, r.Send(t.Context(), NewEvent(EventTurnEnd, "c", "t", nil)), ErrSinkClosed)
}

func TestEnvelopeJSON(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env := Wrap(NewEvent(EventTurnEnd, "conv-1", "turn-2", TurnEndPayload{Status: TurnPaused}), at)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "turn_end",
		"conversationId": "conv-1",
		"turnId": "turn-2",
		"timestamp": "2026-01-01T00:00:00Z",
		"payload": {"status": "paused"}
	}`, string(b))
}

func TestApprovalResolvedSplitsToolCallKey(t *testing.T) {
	ev := ApprovalResolved(ciba.Request{ID: "areq-1", ToolCallKey: "conv-1/call-7", Status: ciba.StatusApproved})
	require.Equal(t, EventApprovalResolved, ev.Type())
	require.Equal(t, "conv-1", ev.ConversationID())
	require.Equal(t, ApprovalResolvedPayload{AuthReqID: "areq-1", ToolCallID: "call-7", Status: "approved"}, ev.Payload())
}
