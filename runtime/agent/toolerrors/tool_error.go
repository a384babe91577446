// Package toolerrors provides the structured failure reported to the model
// when a tool call cannot produce a result. A ToolError keeps the causal chain
// of the underlying error so errors.Is/As keep working after conversion.
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError is a tool failure rendered back to the model as the call result.
type ToolError struct {
	// Message is the text the model sees.
	Message string
	// Hint optionally tells the model how to recover, for example which
	// argument to fix.
	Hint string
	// Cause is the underlying failure, converted into a ToolError chain.
	Cause *ToolError

	orig error
}

// New returns a ToolError with message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// Errorf formats a ToolError message.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Wrap returns a ToolError with message whose cause chain mirrors err.
func Wrap(message string, err error) *ToolError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &ToolError{Message: message, Cause: FromError(err), orig: err}
}

// WithHint sets the recovery hint and returns e.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Hint = hint
	return e
}

// FromError converts err into a ToolError chain. Existing ToolErrors are
// returned unchanged.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
		orig:    err,
	}
}

// Error implements error.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes the original error when the ToolError was converted from
// one, so typed errors remain reachable with errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.orig != nil {
		return e.orig
	}
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// ModelText renders the message and hint as the tool result text.
func (e *ToolError) ModelText() string {
	if e == nil {
		return ""
	}
	if e.Hint == "" {
		return e.Message
	}
	return e.Message + " " + e.Hint
}
