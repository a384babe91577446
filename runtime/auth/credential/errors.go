package credential

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/assistant0/assistant0/runtime/auth"
)

// DefaultAuthorizationMessage is shown when a vendor rejects a delegated token.
const DefaultAuthorizationMessage = "Authorization required to access the Token Vault connection."

var (
	// ErrNeedsAuthorization matches every *AuthorizationRequiredError.
	ErrNeedsAuthorization = errors.New("authorization required")
	// ErrNoSubjectToken is returned when the session carries no token that
	// can be exchanged.
	ErrNoSubjectToken = errors.New("credential: session has no subject token")
)

// Reason explains why authorization is required.
type Reason string

const (
	// ReasonNeverGranted means the user never connected the account or never
	// granted the requested scopes.
	ReasonNeverGranted Reason = "never_granted"
	// ReasonRevoked means a previously working token was rejected upstream.
	ReasonRevoked Reason = "revoked"
	// ReasonExpired means the stored grant expired and cannot be refreshed.
	ReasonExpired Reason = "expired"
)

type (
	// AuthorizationRequiredError reports that the user must (re)connect an
	// account before the tool can run.
	AuthorizationRequiredError struct {
		Connection   auth.Connection
		Scopes       []string
		Reason       Reason
		AuthorizeURL string
		Message      string
		Cause        error
	}

	// UpstreamError reports a failure of the identity provider or of a vendor
	// API unrelated to missing consent.
	UpstreamError struct {
		Service string
		Status  int
		Code    string
		Message string
		Cause   error
	}
)

func (e *AuthorizationRequiredError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("authorization required to access connection %q", e.Connection.ID)
}

// Is matches ErrNeedsAuthorization.
func (e *AuthorizationRequiredError) Is(target error) bool { return target == ErrNeedsAuthorization }

func (e *AuthorizationRequiredError) Unwrap() error { return e.Cause }

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Service, msg)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// Unauthorized reports whether the upstream rejected the credential.
func (e *UpstreamError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// UpstreamStatus builds the error a tool body returns for a non-2xx vendor
// response.
func UpstreamStatus(service string, status int, message string) error {
	return &UpstreamError{Service: service, Status: status, Message: message}
}

// RejectedCredential returns the upstream error when err reports a 401 or 403
// from the vendor.
func RejectedCredential(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Unauthorized() {
		return ue, true
	}
	return nil, false
}

// AsAuthorizationRequired extracts an *AuthorizationRequiredError from err.
func AsAuthorizationRequired(err error) (*AuthorizationRequiredError, bool) {
	var are *AuthorizationRequiredError
	if errors.As(err, &are) {
		return are, true
	}
	return nil, false
}
