package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/assistant0/assistant0/runtime/agent/eventlog"
	"github.com/assistant0/assistant0/runtime/agent/interrupt"
	"github.com/assistant0/assistant0/runtime/agent/model"
	"github.com/assistant0/assistant0/runtime/agent/runtime"
	"github.com/assistant0/assistant0/runtime/agent/session"
	"github.com/assistant0/assistant0/runtime/agent/stream"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

// EventTurnResult is the last line of a chat or resume response.
const EventTurnResult stream.EventType = "turn_result"

const (
	maxBodyBytes = 1 << 20

	defaultLogLimit = 50
	maxLogLimit     = 200
)

type (
	chatRequest struct {
		ConversationID string `json:"conversationId,omitempty"`
		Message        string `json:"message"`
	}

	resumeRequest struct {
		ResumeToken string `json:"resumeToken"`
	}

	callbackRequest struct {
		AuthReqID string `json:"auth_req_id"`
	}

	// TurnResultView is the payload of the turn_result line.
	TurnResultView struct {
		ConversationID string               `json:"conversationId"`
		Turn           int                  `json:"turn"`
		Status         string               `json:"status"`
		Reply          string               `json:"reply,omitempty"`
		Directive      *interrupt.Directive `json:"directive,omitempty"`
		Duplicate      bool                 `json:"duplicate,omitempty"`
	}

	// ConversationView is the response of GET /api/conversations/{id}.
	ConversationView struct {
		ID        string        `json:"id"`
		Status    string        `json:"status"`
		Turn      int           `json:"turn"`
		Messages  []MessageView `json:"messages"`
		Pending   *PendingView  `json:"pending,omitempty"`
		CreatedAt time.Time     `json:"createdAt"`
		UpdatedAt time.Time     `json:"updatedAt"`
	}

	// MessageView is a user or assistant message. Tool results are not
	// exposed.
	MessageView struct {
		Role      string   `json:"role"`
		Content   string   `json:"content,omitempty"`
		ToolCalls []string `json:"toolCalls,omitempty"`
	}

	// PendingView describes the suspended tool call of a paused
	// conversation.
	PendingView struct {
		ToolCallID string `json:"toolCallId"`
		ToolName   string `json:"toolName"`
		Kind       string `json:"kind"`
		Connection string `json:"connection,omitempty"`
		AuthReqID  string `json:"authReqId,omitempty"`
	}

	// EventLogView is a page of recorded conversation events.
	EventLogView struct {
		Events     []LoggedEventView `json:"events"`
		NextCursor string            `json:"nextCursor,omitempty"`
	}

	// LoggedEventView is a recorded event.
	LoggedEventView struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		TurnID    string          `json:"turnId,omitempty"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}

	errorBody struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
)

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if !decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(r.Context(), w, runtime.ErrEmptyMessage)
		return
	}
	s.stream(w, r, func(ctx context.Context, sink stream.Sink) (runtime.TurnResult, error) {
		return s.runtime.RunTurn(ctx, runtime.TurnInput{ConversationID: body.ConversationID, Message: body.Message}, sink)
	})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	var body resumeRequest
	if !decode(w, r, &body) {
		return
	}
	if body.ResumeToken == "" {
		writeError(r.Context(), w, interrupt.ErrInvalidResumeToken)
		return
	}
	s.stream(w, r, func(ctx context.Context, sink stream.Sink) (runtime.TurnResult, error) {
		return s.runtime.Resume(ctx, body.ResumeToken, sink)
	})
}

// stream runs a turn with an NDJSON sink and terminates the response with a
// turn_result line. Errors raised before the first event become regular
// error responses.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, run func(context.Context, stream.Sink) (runtime.TurnResult, error)) {
	ctx := r.Context()
	out := newNDJSONSink(w, s.now)
	var sink stream.Sink = out
	if s.events != nil {
		sink = stream.NewFanout(s.events, out)
	}
	res, err := run(ctx, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		if out.Started() {
			log.Error(ctx, err, log.KV{K: "msg", V: "turn aborted"})
			return
		}
		writeError(ctx, w, err)
		return
	}
	view := TurnResultView{
		ConversationID: res.ConversationID,
		Turn:           res.Turn,
		Status:         res.Status,
		Reply:          res.Reply,
		Directive:      res.Directive,
		Duplicate:      res.Duplicate,
	}
	ev := stream.NewEvent(EventTurnResult, res.ConversationID, strconv.Itoa(res.Turn), view)
	if err := out.Send(ctx, ev); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "write turn result"})
	}
	_ = out.Close(ctx)
}

// cibaCallback handles the identity provider ping sent when the user answers
// an approval request.
func (s *Server) cibaCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.callbackToken != "" {
		got := auth.ExtractBearer(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.callbackToken)) != 1 {
			writeStatus(ctx, w, http.StatusUnauthorized, "unauthorized", "invalid callback token")
			return
		}
	}
	var body callbackRequest
	if !decode(w, r, &body) {
		return
	}
	if body.AuthReqID == "" {
		writeStatus(ctx, w, http.StatusBadRequest, "bad_request", "auth_req_id is required")
		return
	}
	ctx = log.With(ctx, log.KV{K: "auth_req_id", V: body.AuthReqID})
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, body.AuthReqID); err != nil {
			writeError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	req, err := s.approvals.Refresh(ctx, body.AuthReqID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.Terminal() && s.events != nil {
		if err := s.events.Send(ctx, stream.ApprovalResolved(req)); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "publish approval resolution"})
		}
	}
	log.Info(ctx, log.KV{K: "msg", V: "approval callback"}, log.KV{K: "status", V: string(req.Status)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) conversation(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		conv, err := s.runtime.Conversation(ctx, mux.Vars(r)["id"])
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, conversationView(conv))
	}
}

func (s *Server) followEvents(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		conv, err := s.runtime.Conversation(ctx, mux.Vars(r)["id"])
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		events, errs, cancel, err := s.follow(ctx, conv.ID)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		defer cancel()
		out := newNDJSONSink(w, s.now)
		// Commit the response so clients see the stream open.
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		out.started = true
		_ = out.rc.Flush()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if ok && err != nil {
					log.Error(ctx, err, log.KV{K: "msg", V: "follow conversation"})
				}
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := out.Send(ctx, ev); err != nil {
					return
				}
			}
		}
	}
}

// eventHistory pages through the recorded events of a conversation owned by
// the caller.
func (s *Server) eventHistory(mux goahttp.Muxer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limit := defaultLogLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeStatus(ctx, w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
				return
			}
			limit = min(n, maxLogLimit)
		}
		conv, err := s.runtime.Conversation(ctx, mux.Vars(r)["id"])
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		page, err := s.eventLog.List(ctx, conv.ID, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		view := EventLogView{Events: make([]LoggedEventView, 0, len(page.Events)), NextCursor: page.NextCursor}
		for _, e := range page.Events {
			view.Events = append(view.Events, LoggedEventView{
				ID:        e.ID,
				Type:      string(e.Type),
				TurnID:    e.TurnID,
				Timestamp: e.Timestamp,
				Payload:   e.Payload,
			})
		}
		writeJSON(ctx, w, http.StatusOK, view)
	}
}

// authenticate verifies the bearer session token and stores the principal in
// the request context.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		raw := auth.ExtractBearer(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(ctx, w, auth.ErrNoPrincipal)
			return
		}
		p, err := s.sessions.Verify(ctx, raw)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		if rt := r.Header.Get(RefreshTokenHeader); rt != "" {
			p.RefreshToken = auth.NewSecret(rt)
		}
		ctx = auth.WithPrincipal(ctx, p)
		ctx = log.With(ctx, log.KV{K: "sub", V: p.Subject})
		next(w, r.WithContext(ctx))
	}
}

func conversationView(c session.Conversation) ConversationView {
	v := ConversationView{
		ID:        c.ID,
		Status:    string(c.Status),
		Turn:      c.Turn,
		Messages:  make([]MessageView, 0, len(c.Messages)),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for _, m := range c.Messages {
		if m.Role == model.RoleTool {
			continue
		}
		mv := MessageView{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			mv.ToolCalls = append(mv.ToolCalls, tc.Name)
		}
		v.Messages = append(v.Messages, mv)
	}
	if p := c.Pending; p != nil {
		v.Pending = &PendingView{
			ToolCallID: p.Call.ID,
			ToolName:   p.Call.Name,
			Kind:       p.Kind,
			Connection: p.Connection,
			AuthReqID:  p.AuthReqID,
		}
	}
	return v
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := goahttp.RequestDecoder(r).Decode(v); err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeStatus(r.Context(), w, http.StatusBadRequest, "bad_request", msg)
		return false
	}
	return true
}

// writeError maps domain errors to HTTP statuses. Unexpected errors are
// logged and reported without details.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNoPrincipal), errors.Is(err, auth.ErrInvalidSession):
		writeStatus(ctx, w, http.StatusUnauthorized, "unauthorized", "a valid session is required")
	case errors.Is(err, runtime.ErrEmptyMessage):
		writeStatus(ctx, w, http.StatusBadRequest, "bad_request", "message is required")
	case errors.Is(err, interrupt.ErrInvalidResumeToken):
		writeStatus(ctx, w, http.StatusBadRequest, "invalid_resume_token", "the resume token is invalid or expired")
	case errors.Is(err, session.ErrConversationNotFound):
		writeStatus(ctx, w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, ciba.ErrRequestNotFound):
		writeStatus(ctx, w, http.StatusNotFound, "not_found", "authorization request not found")
	case errors.Is(err, eventlog.ErrInvalidCursor):
		writeStatus(ctx, w, http.StatusBadRequest, "bad_request", "invalid cursor")
	case errors.Is(err, session.ErrConflict):
		writeStatus(ctx, w, http.StatusConflict, "conflict", "the conversation was modified concurrently, retry")
	default:
		log.Error(ctx, err, log.KV{K: "msg", V: "request failed"})
		writeStatus(ctx, w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeStatus(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	writeJSON(ctx, w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := goahttp.ResponseEncoder(ctx, w).Encode(v); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "encode response"})
	}
}
