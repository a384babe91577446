package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"net/url"
	"strconv"
	"strings"

	"github.com/assistant0/assistant0/runtime/agent/toolerrors"
	"github.com/assistant0/assistant0/runtime/agent/tools"
)

const (
	gmailSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {"type": "string", "minLength": 1, "description": "Gmail search query, e.g. from:alice is:unread."},
    "maxResults": {"type": "integer", "minimum": 1, "maximum": 25}
  },
  "required": ["query"],
  "additionalProperties": false
}`

	gmailDraftSchema = `{
  "type": "object",
  "properties": {
    "to": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "cc": {"type": "array", "items": {"type": "string"}},
    "subject": {"type": "string"},
    "message": {"type": "string", "description": "Plain text body of the email."}
  },
  "required": ["to", "subject", "message"],
  "additionalProperties": false
}`

	defaultMessageCount = 10
)

type (
	gmailHeader struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}

	gmailMessage struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
		Snippet  string `json:"snippet"`
		Payload  struct {
			Headers []gmailHeader `json:"headers"`
		} `json:"payload"`
	}

	// MessageSummary is the shape returned to the model.
	MessageSummary struct {
		ID      string `json:"id"`
		From    string `json:"from,omitempty"`
		Subject string `json:"subject,omitempty"`
		Date    string `json:"date,omitempty"`
		Snippet string `json:"snippet,omitempty"`
	}
)

func (ts *toolset) gmailSearch(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		Query      string `json:"query"`
		MaxResults int    `json:"maxResults"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	limit := args.MaxResults
	if limit == 0 {
		limit = defaultMessageCount
	}
	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	q := url.Values{"q": {args.Query}, "maxResults": {strconv.Itoa(limit)}}
	if err := ts.gmail.Get(ctx, "/users/me/messages", q, &list); err != nil {
		return tools.Result{}, err
	}
	out := make([]MessageSummary, 0, len(list.Messages))
	meta := url.Values{
		"format":          {"metadata"},
		"metadataHeaders": {"From", "Subject", "Date"},
	}
	for _, m := range list.Messages {
		var msg gmailMessage
		if err := ts.gmail.Get(ctx, "/users/me/messages/"+url.PathEscape(m.ID), meta, &msg); err != nil {
			return tools.Result{}, err
		}
		s := MessageSummary{ID: msg.ID, Snippet: msg.Snippet}
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				s.From = h.Value
			case "subject":
				s.Subject = h.Value
			case "date":
				s.Date = h.Value
			}
		}
		out = append(out, s)
	}
	return tools.Result{Value: map[string]any{"count": len(out), "messages": out}}, nil
}

func (ts *toolset) gmailCreateDraft(ctx context.Context, call tools.Call) (tools.Result, error) {
	var args struct {
		To      []string `json:"to"`
		Cc      []string `json:"cc"`
		Subject string   `json:"subject"`
		Message string   `json:"message"`
	}
	if err := call.Decode(&args); err != nil {
		return tools.Result{}, err
	}
	raw, err := composeMessage(args.To, args.Cc, args.Subject, args.Message)
	if err != nil {
		return tools.Result{}, err
	}
	body := map[string]any{"message": map[string]string{"raw": raw}}
	var draft struct {
		ID      string `json:"id"`
		Message struct {
			ID string `json:"id"`
		} `json:"message"`
	}
	if err := ts.gmail.Post(ctx, "/users/me/drafts", body, &draft); err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Value: map[string]string{
		"draftId": draft.ID,
		"status":  fmt.Sprintf("Draft created for %s.", strings.Join(args.To, ", ")),
	}}, nil
}

// composeMessage renders an RFC 5322 message encoded as Gmail expects.
func composeMessage(to, cc []string, subject, body string) (string, error) {
	for _, addrs := range [][]string{to, cc} {
		for _, a := range addrs {
			if _, err := mail.ParseAddress(a); err != nil {
				return "", toolerrors.Errorf("Invalid email address %q.", a)
			}
		}
	}
	var b strings.Builder
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	if len(cc) > 0 {
		b.WriteString("Cc: " + strings.Join(cc, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return base64.RawURLEncoding.EncodeToString([]byte(b.String())), nil
}
