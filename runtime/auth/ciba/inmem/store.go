// Package inmem provides a process-local authorization request store.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

// Store is an in-memory ciba.Store.
type Store struct {
	mu       sync.Mutex
	requests map[string]ciba.Request
	byCall   map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		requests: make(map[string]ciba.Request),
		byCall:   make(map[string]string),
	}
}

// Create implements ciba.Store.
func (s *Store) Create(_ context.Context, req ciba.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCall[req.ToolCallKey]; ok {
		return ciba.ErrDuplicateRequest
	}
	s.requests[req.ID] = clone(req)
	s.byCall[req.ToolCallKey] = req.ID
	return nil
}

// Load implements ciba.Store.
func (s *Store) Load(_ context.Context, id string) (ciba.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ciba.Request{}, ciba.ErrRequestNotFound
	}
	return clone(req), nil
}

// FindByToolCall implements ciba.Store.
func (s *Store) FindByToolCall(_ context.Context, key string) (ciba.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCall[key]
	if !ok {
		return ciba.Request{}, ciba.ErrRequestNotFound
	}
	return clone(s.requests[id]), nil
}

// Resolve implements ciba.Store.
func (s *Store) Resolve(_ context.Context, id string, status ciba.Status, at time.Time) (ciba.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ciba.Request{}, ciba.ErrRequestNotFound
	}
	next, err := req.Resolve(status, at)
	if err != nil {
		return clone(req), err
	}
	s.requests[id] = next
	return clone(next), nil
}

// Consume implements ciba.Store.
func (s *Store) Consume(_ context.Context, id string, at time.Time) (ciba.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return ciba.Request{}, ciba.ErrRequestNotFound
	}
	next, err := req.Consume(at)
	if err != nil {
		return clone(req), err
	}
	s.requests[id] = next
	return clone(next), nil
}

func clone(r ciba.Request) ciba.Request {
	r.Scopes = append([]string(nil), r.Scopes...)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		r.ResolvedAt = &t
	}
	if r.ConsumedAt != nil {
		t := *r.ConsumedAt
		r.ConsumedAt = &t
	}
	return r
}
