package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderErrorKind classifies provider failures for retry decisions.
type ProviderErrorKind string

const (
	ProviderErrorKindAuth           ProviderErrorKind = "auth"
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorKindRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorKindUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorKindUnknown        ProviderErrorKind = "unknown"
)

// ProviderError is a failure returned by a model provider.
type ProviderError struct {
	// Provider names the backend, e.g. "openai".
	Provider string
	// Status is the HTTP status when known.
	Status int
	Kind   ProviderErrorKind
	// Code is the provider error code when known.
	Code    string
	Message string
	Cause   error
}

// NewProviderError classifies status and wraps cause.
func NewProviderError(provider string, status int, code, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Status:   status,
		Kind:     KindForStatus(status),
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ProviderErrorKindAuth
	case status == http.StatusTooManyRequests:
		return ProviderErrorKindRateLimited
	case status >= 500:
		return ProviderErrorKindUnavailable
	case status >= 400:
		return ProviderErrorKindInvalidRequest
	default:
		return ProviderErrorKindUnknown
	}
}

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderErrorKindRateLimited || e.Kind == ProviderErrorKindUnavailable
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s %s (%d): %s", e.Provider, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// AsProviderError returns the first ProviderError in err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
