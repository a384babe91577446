// Package inmem provides an in-memory eventlog.Store for tests and local
// development.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/assistant0/assistant0/runtime/agent/eventlog"
)

// Store implements eventlog.Store in memory. IDs are 1-based sequence numbers
// per conversation.
type Store struct {
	mu     sync.Mutex
	events map[string][]eventlog.Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{events: make(map[string][]eventlog.Event)}
}

// Append implements eventlog.Store.
func (s *Store) Append(_ context.Context, e *eventlog.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[e.ConversationID]
	e.ID = strconv.Itoa(len(all) + 1)
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	s.events[e.ConversationID] = append(all, cp)
	return nil
}

// List implements eventlog.Store.
func (s *Store) List(_ context.Context, conversationID, cursor string, limit int) (eventlog.Page, error) {
	if conversationID == "" {
		return eventlog.Page{}, errors.New("eventlog: conversation id is required")
	}
	if limit <= 0 {
		return eventlog.Page{}, errors.New("eventlog: limit must be > 0")
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return eventlog.Page{}, fmt.Errorf("%w: %q", eventlog.ErrInvalidCursor, cursor)
		}
		start = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.events[conversationID]
	if start >= len(all) {
		return eventlog.Page{}, nil
	}
	end := min(start+limit, len(all))
	page := eventlog.Page{Events: make([]*eventlog.Event, 0, end-start)}
	for i := start; i < end; i++ {
		ev := all[i]
		page.Events = append(page.Events, &ev)
	}
	if end < len(all) {
		page.NextCursor = all[end-1].ID
	}
	return page, nil
}
