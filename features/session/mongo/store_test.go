package mongo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assistant0/assistant0/runtime/agent/session"
)

type recordingClient struct {
	calls []string
}

func (c *recordingClient) Name() string               { return "fake" }
func (c *recordingClient) Ping(context.Context) error { return nil }

func (c *recordingClient) CreateConversation(_ context.Context, conv session.Conversation) (session.Conversation, error) {
	c.calls = append(c.calls, "create:"+conv.ID)
	return conv, nil
}

func (c *recordingClient) LoadConversation(_ context.Context, id string) (session.Conversation, error) {
	c.calls = append(c.calls, "load:"+id)
	return session.Conversation{}, session.ErrConversationNotFound
}

func (c *recordingClient) SaveConversation(_ context.Context, conv session.Conversation) (session.Conversation, error) {
	c.calls = append(c.calls, "save:"+conv.ID)
	return session.Conversation{}, session.ErrConflict
}

func (c *recordingClient) ClaimPending(_ context.Context, id, toolCallID string) (session.Conversation, session.PendingCall, error) {
	c.calls = append(c.calls, "claim:"+id+"/"+toolCallID)
	return session.Conversation{}, session.PendingCall{}, session.ErrNoPendingCall
}

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "client is required")
}

func TestStoreDelegatesToClient(t *testing.T) {
	client := &recordingClient{}
	store, err := NewStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Create(ctx, session.Conversation{ID: "conv-1"})
	require.NoError(t, err)
	_, err = store.Load(ctx, "conv-1")
	require.ErrorIs(t, err, session.ErrConversationNotFound)
	_, err = store.Save(ctx, session.Conversation{ID: "conv-1"})
	require.ErrorIs(t, err, session.ErrConflict)
	_, _, err = store.ClaimPending(ctx, "conv-1", "c1")
	require.ErrorIs(t, err, session.ErrNoPendingCall)

	require.Equal(t, []string{"create:conv-1", "load:conv-1", "save:conv-1", "claim:conv-1/c1"}, client.calls)
}
