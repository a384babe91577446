package eventlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/agent/eventlog"
	"github.com/assistant0/assistant0/runtime/agent/eventlog/inmem"
	"github.com/assistant0/assistant0/runtime/agent/stream"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

func TestSinkRecordsEvents(t *testing.T) {
	store := inmem.New()
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	sink := eventlog.NewSink(store, func() time.Time { return at })
	ctx := context.Background()

	require.NoError(t, sink.Send(ctx, stream.NewEvent(stream.EventAssistantReply, "conv-1", "2", stream.AssistantReplyPayload{Text: "hi"})))
	require.NoError(t, sink.Send(ctx, stream.ApprovalResolved(ciba.Request{
		ID:          "req-1",
		ToolCallKey: "conv-1/call-7",
		Status:      ciba.StatusApproved,
	})))
	require.NoError(t, sink.Close(ctx))

	page, err := store.List(ctx, "conv-1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)

	reply := page.Events[0]
	assert.Equal(t, stream.EventAssistantReply, reply.Type)
	assert.Equal(t, "2", reply.TurnID)
	assert.Equal(t, at, reply.Timestamp)
	assert.JSONEq(t, `{"text":"hi"}`, string(reply.Payload))

	resolved := page.Events[1]
	assert.Equal(t, stream.EventApprovalResolved, resolved.Type)
	assert.JSONEq(t, `{"authReqId":"req-1","toolCallId":"call-7","status":"approved"}`, string(resolved.Payload))
}

func TestSinkRejectsEventsWithoutConversation(t *testing.T) {
	sink := eventlog.NewSink(inmem.New(), nil)
	err := sink.Send(context.Background(), stream.NewEvent(stream.EventTurnEnd, "", "1", stream.TurnEndPayload{Status: stream.TurnCompleted}))
	require.Error(t, err)
}
