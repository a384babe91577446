package ciba

import (
	"errors"
	"fmt"
)

const (
	// DeniedMessage is the user-facing outcome of a denied request.
	DeniedMessage = "The user has denied the request"
	// ExpiredMessage is the user-facing outcome of an expired request.
	ExpiredMessage = "The authorization request expired before it was approved. Ask again to start a new request."
)

var (
	// ErrDenied matches every *DeniedError.
	ErrDenied = errors.New("ciba: request denied")
	// ErrExpired matches every *ExpiredError.
	ErrExpired = errors.New("ciba: request expired")
	// ErrBlockModeRequiresDevelopment is returned when block mode is
	// configured outside development.
	ErrBlockModeRequiresDevelopment = errors.New("ciba: block mode is only available in development")
)

type (
	// DeniedError reports that the user rejected the action.
	DeniedError struct {
		Request Request
	}

	// ExpiredError reports that the request timed out unanswered. Callers
	// must not retry it automatically.
	ExpiredError struct {
		Request Request
	}
)

func (e *DeniedError) Error() string { return DeniedMessage }

// Is matches ErrDenied.
func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("authorization request %s expired", e.Request.ID)
}

// Is matches ErrExpired.
func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }
