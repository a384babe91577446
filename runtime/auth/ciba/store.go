package ciba

import (
	"context"
	"time"
)

// Store persists authorization requests so pending approvals survive process
// restarts. Transitions are atomic: concurrent resolvers or consumers observe
// exactly one winner.
type Store interface {
	// Create persists a new pending request. It returns ErrDuplicateRequest
	// when the tool call already has one.
	Create(ctx context.Context, req Request) error
	// Load returns the request with the given id.
	Load(ctx context.Context, id string) (Request, error)
	// FindByToolCall returns the request gating the tool call.
	FindByToolCall(ctx context.Context, toolCallKey string) (Request, error)
	// Resolve moves a pending request to status. When the request is no
	// longer pending it returns the stored request and ErrNotPending.
	Resolve(ctx context.Context, id string, status Status, at time.Time) (Request, error)
	// Consume marks an approved request as used. It returns
	// ErrAlreadyConsumed to every caller but the first.
	Consume(ctx context.Context, id string, at time.Time) (Request, error)
}
