// Package interrupt models the non-fatal pauses of a turn: a tool call that
// needs the user to connect an account or approve an action. Interruptions
// are values returned by the gate, rendered to the UI as directives and
// resumed with signed resume tokens.
package interrupt

import (
	"time"

	"github.com/assistant0/assistant0/runtime/agent/tools"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/credential"
)

// Kind distinguishes the user action an interruption waits for.
type Kind string

const (
	// KindAuthorization asks the user to connect or reconnect an account.
	KindAuthorization Kind = "authorization_required"
	// KindApproval asks the user to approve the action on their device.
	KindApproval Kind = "approval_required"
)

// DefaultApprovalMessage is shown while an approval is pending.
const DefaultApprovalMessage = "Waiting for you to approve the request on your device."

type (
	// Interruption describes a suspended tool call.
	Interruption struct {
		Kind Kind
		// Reason explains authorization interruptions.
		Reason credential.Reason
		// Connection is the account to connect.
		Connection auth.Connection
		// Scopes are the permissions the tool needs.
		Scopes []string
		// AuthorizeURL starts the account connection flow.
		AuthorizeURL string
		// Message is the user-facing explanation.
		Message string
		// BindingMessage is the text shown on the approval device.
		BindingMessage string
		// AuthReqID is the pending approval request.
		AuthReqID string
		// ExpiresAt is when a pending approval lapses.
		ExpiresAt time.Time
		// Call is the suspended tool call.
		Call tools.Call
	}

	// Directive is the JSON shape the UI renders for an interruption.
	Directive struct {
		Type           Kind       `json:"type"`
		Connection     string     `json:"connection,omitempty"`
		Scopes         []string   `json:"scopes,omitempty"`
		Reason         string     `json:"reason,omitempty"`
		Message        string     `json:"message"`
		BindingMessage string     `json:"bindingMessage,omitempty"`
		AuthorizeURL   string     `json:"authorizeUrl,omitempty"`
		ResumeToken    string     `json:"resumeToken"`
		ToolCallID     string     `json:"toolCallId"`
		ToolName       string     `json:"toolName"`
		ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	}
)

// FromAuthorizationRequired builds the interruption of a call blocked on a
// missing or revoked grant.
func FromAuthorizationRequired(err *credential.AuthorizationRequiredError, call tools.Call) Interruption {
	msg := err.Message
	if msg == "" {
		msg = credential.DefaultAuthorizationMessage
	}
	scopes := err.Scopes
	if len(scopes) == 0 {
		scopes = err.Connection.Scopes
	}
	return Interruption{
		Kind:         KindAuthorization,
		Reason:       err.Reason,
		Connection:   err.Connection,
		Scopes:       auth.NormalizeScopes(scopes),
		AuthorizeURL: err.AuthorizeURL,
		Message:      msg,
		Call:         call,
	}
}

// Directive renders the interruption with its resume token.
func (i Interruption) Directive(resumeToken string) Directive {
	d := Directive{
		Type:           i.Kind,
		Connection:     i.Connection.ID,
		Scopes:         i.Scopes,
		Reason:         string(i.Reason),
		Message:        i.Message,
		BindingMessage: i.BindingMessage,
		AuthorizeURL:   i.AuthorizeURL,
		ResumeToken:    resumeToken,
		ToolCallID:     i.Call.ID,
		ToolName:       string(i.Call.Name),
	}
	if d.Message == "" && i.Kind == KindApproval {
		d.Message = DefaultApprovalMessage
	}
	if !i.ExpiresAt.IsZero() {
		at := i.ExpiresAt.UTC()
		d.ExpiresAt = &at
	}
	return d
}
