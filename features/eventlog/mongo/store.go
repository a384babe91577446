// Package mongo stores the conversation event log in MongoDB.
//
// Build the low-level client with clients/mongo and pass it to NewStore.
package mongo

import (
	"context"
	"errors"

	clientsmongo "github.com/assistant0/assistant0/features/eventlog/mongo/clients/mongo"
	"github.com/assistant0/assistant0/runtime/agent/eventlog"
)

// Store implements eventlog.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
}

var _ eventlog.Store = (*Store)(nil)

// NewStore returns a Store using client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Append implements eventlog.Store.
func (s *Store) Append(ctx context.Context, e *eventlog.Event) error {
	return s.client.Append(ctx, e)
}

// List implements eventlog.Store.
func (s *Store) List(ctx context.Context, conversationID, cursor string, limit int) (eventlog.Page, error) {
	return s.client.List(ctx, conversationID, cursor, limit)
}
