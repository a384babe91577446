package ciba

import (
	"context"
	"time"

	"github.com/assistant0/assistant0/runtime/auth/credential"
)

type (
	// InitiateRequest asks the identity provider to push an approval prompt
	// to the user.
	InitiateRequest struct {
		Subject         string
		BindingMessage  string
		Scopes          []string
		Audience        string
		RequestedExpiry time.Duration
	}

	// InitiateResponse is the provider acknowledgement.
	InitiateResponse struct {
		AuthReqID string
		ExpiresIn time.Duration
		Interval  time.Duration
	}

	// PollResult is the outcome of one token endpoint poll.
	PollResult struct {
		Status Status
		// Token is set when Status is StatusApproved.
		Token credential.Token
		// SlowDown asks the caller to increase its polling interval.
		SlowDown bool
	}

	// Backchannel is the identity provider side of the flow.
	Backchannel interface {
		Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
		Poll(ctx context.Context, authReqID string) (PollResult, error)
	}
)
