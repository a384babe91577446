// Package ciba implements the out-of-band approval flow (Client-Initiated
// Backchannel Authentication) used by tools that need explicit per-call user
// consent. A request moves from pending to exactly one of approved, denied or
// expired; an approved request can be consumed once.
package ciba

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an authorization request.
type Status string

const (
	// StatusPending means the user has not answered yet.
	StatusPending Status = "pending"
	// StatusApproved means the user approved the action.
	StatusApproved Status = "approved"
	// StatusDenied means the user rejected the action.
	StatusDenied Status = "denied"
	// StatusExpired means the request timed out unanswered.
	StatusExpired Status = "expired"
)

var (
	// ErrNotPending is returned when resolving a request that is already
	// resolved.
	ErrNotPending = errors.New("ciba: authorization request is not pending")
	// ErrNotApproved is returned when consuming a request that was not
	// approved.
	ErrNotApproved = errors.New("ciba: authorization request is not approved")
	// ErrAlreadyConsumed is returned when an approval was already used.
	ErrAlreadyConsumed = errors.New("ciba: authorization request already consumed")
	// ErrRequestNotFound is returned by stores for unknown requests.
	ErrRequestNotFound = errors.New("ciba: authorization request not found")
	// ErrDuplicateRequest is returned when a tool call already has a request.
	ErrDuplicateRequest = errors.New("ciba: tool call already has an authorization request")
)

// Request is a pending or resolved out-of-band authorization request.
type Request struct {
	// ID is the identity provider auth_req_id.
	ID string
	// ToolCallKey identifies the suspended tool call the request gates.
	ToolCallKey string
	// Subject is the user asked for approval.
	Subject string
	// BindingMessage is shown to the user on the approval device.
	BindingMessage string
	// Scopes requested for the resulting token.
	Scopes []string
	// Audience of the resulting token.
	Audience string
	// Status is the lifecycle state.
	Status Status
	// Interval is the minimum polling interval advertised by the provider.
	Interval time.Duration

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
	// Consumed records that the approved action already ran.
	Consumed   bool
	ConsumedAt *time.Time
}

// Terminal reports whether the request reached a final status.
func (r Request) Terminal() bool {
	return r.Status != StatusPending
}

// ExpiredAt reports whether a pending request is past its expiry at now.
func (r Request) ExpiredAt(now time.Time) bool {
	return r.Status == StatusPending && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Resolve transitions a pending request to status.
func (r Request) Resolve(status Status, now time.Time) (Request, error) {
	if r.Status != StatusPending {
		return r, ErrNotPending
	}
	switch status {
	case StatusApproved, StatusDenied, StatusExpired:
	default:
		return r, errors.New("ciba: invalid resolution status " + string(status))
	}
	at := now.UTC()
	r.Status = status
	r.ResolvedAt = &at
	r.UpdatedAt = at
	return r, nil
}

// Consume marks an approved request as used.
func (r Request) Consume(now time.Time) (Request, error) {
	if r.Status != StatusApproved {
		return r, ErrNotApproved
	}
	if r.Consumed {
		return r, ErrAlreadyConsumed
	}
	at := now.UTC()
	r.Consumed = true
	r.ConsumedAt = &at
	r.UpdatedAt = at
	return r, nil
}
