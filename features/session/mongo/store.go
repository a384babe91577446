package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/assistant0/assistant0/features/session/mongo/clients/mongo"
	"github.com/assistant0/assistant0/runtime/agent/session"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, c session.Conversation) (session.Conversation, error) {
	return s.client.CreateConversation(ctx, c)
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, id string) (session.Conversation, error) {
	return s.client.LoadConversation(ctx, id)
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, c session.Conversation) (session.Conversation, error) {
	return s.client.SaveConversation(ctx, c)
}

// ClaimPending implements session.Store.
func (s *Store) ClaimPending(ctx context.Context, id, toolCallID string) (session.Conversation, session.PendingCall, error) {
	return s.client.ClaimPending(ctx, id, toolCallID)
}

var _ session.Store = (*Store)(nil)
