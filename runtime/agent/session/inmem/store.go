// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments
// use features/session/mongo.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/assistant0/assistant0/runtime/agent/session"
)

// Store is an in-memory session.Store. It is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]session.Conversation
	now           func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{conversations: make(map[string]session.Conversation), now: time.Now}
}

// Create implements session.Store.
func (s *Store) Create(_ context.Context, c session.Conversation) (session.Conversation, error) {
	if c.ID == "" {
		return session.Conversation{}, errors.New("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; ok {
		return session.Conversation{}, session.ErrConversationExists
	}
	now := s.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.Status == "" {
		c.Status = session.StatusActive
	}
	c.UpdatedAt = now
	c.Version = 1
	s.conversations[c.ID] = c.Clone()
	return c.Clone(), nil
}

// Load implements session.Store.
func (s *Store) Load(_ context.Context, id string) (session.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return session.Conversation{}, session.ErrConversationNotFound
	}
	return c.Clone(), nil
}

// Save implements session.Store.
func (s *Store) Save(_ context.Context, c session.Conversation) (session.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.conversations[c.ID]
	if !ok {
		return session.Conversation{}, session.ErrConversationNotFound
	}
	if existing.Version != c.Version {
		return session.Conversation{}, session.ErrConflict
	}
	c.Version++
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now().UTC()
	s.conversations[c.ID] = c.Clone()
	return c.Clone(), nil
}

// ClaimPending implements session.Store.
func (s *Store) ClaimPending(_ context.Context, id, toolCallID string) (session.Conversation, session.PendingCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return session.Conversation{}, session.PendingCall{}, session.ErrConversationNotFound
	}
	if c.Pending == nil || c.Pending.Call.ID != toolCallID {
		return session.Conversation{}, session.PendingCall{}, session.ErrNoPendingCall
	}
	p := c.Pending.Clone()
	c.Pending = nil
	c.Status = session.StatusActive
	c.Version++
	c.UpdatedAt = s.now().UTC()
	s.conversations[id] = c
	return c.Clone(), p, nil
}
