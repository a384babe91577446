package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/clue/health"
	goahttp "goa.design/goa/v3/http"

	eventloginmem "github.com/assistant0/assistant0/runtime/agent/eventlog/inmem"
	"github.com/assistant0/assistant0/runtime/agent/interrupt"
	"github.com/assistant0/assistant0/runtime/agent/model"
	"github.com/assistant0/assistant0/runtime/agent/runtime"
	"github.com/assistant0/assistant0/runtime/agent/session"
	"github.com/assistant0/assistant0/runtime/agent/stream"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
	transport "github.com/assistant0/assistant0/transport/http"
)

type fakeRuntime struct {
	principal auth.Principal
	input     runtime.TurnInput
	err       error
	conv      session.Conversation
}

func (f *fakeRuntime) RunTurn(ctx context.Context, in runtime.TurnInput, sink stream.Sink) (runtime.TurnResult, error) {
	f.principal, _ = auth.PrincipalFromContext(ctx)
	f.input = in
	if f.err != nil {
		return runtime.TurnResult{}, f.err
	}
	_ = sink.Send(ctx, stream.NewEvent(stream.EventTurnStarted, "conv-1", "1", stream.TurnStartedPayload{Turn: 1}))
	_ = sink.Send(ctx, stream.NewEvent(stream.EventAssistantReply, "conv-1", "1", stream.AssistantReplyPayload{Text: "hi"}))
	_ = sink.Send(ctx, stream.NewEvent(stream.EventTurnEnd, "conv-1", "1", stream.TurnEndPayload{Status: stream.TurnCompleted}))
	return runtime.TurnResult{ConversationID: "conv-1", Turn: 1, Status: stream.TurnCompleted, Reply: "hi"}, nil
}

func (f *fakeRuntime) Resume(ctx context.Context, token string, _ stream.Sink) (runtime.TurnResult, error) {
	if f.err != nil {
		return runtime.TurnResult{}, f.err
	}
	return runtime.TurnResult{ConversationID: "conv-1", Turn: 1, Status: stream.TurnCompleted, Reply: "done", Duplicate: true}, nil
}

func (f *fakeRuntime) Conversation(ctx context.Context, id string) (session.Conversation, error) {
	if f.conv.ID != id {
		return session.Conversation{}, session.ErrConversationNotFound
	}
	return f.conv, nil
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, raw string) (auth.Principal, error) {
	if raw != "good" {
		return auth.Principal{}, auth.ErrInvalidSession
	}
	return auth.Principal{Subject: "auth0|alice", SessionToken: auth.NewSecret(raw)}, nil
}

type fakeRefresher struct {
	req ciba.Request
	err error
	got string
}

func (f *fakeRefresher) Refresh(_ context.Context, id string) (ciba.Request, error) {
	f.got = id
	return f.req, f.err
}

type failingPinger struct{}

func (failingPinger) Name() string               { return "mongo" }
func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newServer(t *testing.T, opts transport.Options) *httptest.Server {
	t.Helper()
	if opts.Sessions == nil {
		opts.Sessions = fakeVerifier{}
	}
	if opts.Approvals == nil {
		opts.Approvals = &fakeRefresher{}
	}
	opts.Now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	s, err := transport.New(opts)
	require.NoError(t, err)
	mux := goahttp.NewMuxer()
	s.Mount(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readLines(t *testing.T, resp *http.Response) []stream.Envelope {
	t.Helper()
	var out []stream.Envelope
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var env stream.Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		out = append(out, env)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestChatStreamsEventsAndResult(t *testing.T) {
	rt := &fakeRuntime{}
	published := &stream.Recorder{}
	srv := newServer(t, transport.Options{Runtime: rt, Events: published})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", strings.NewReader(`{"message":"hello"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set(transport.RefreshTokenHeader, "rt-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	lines := readLines(t, resp)
	require.Len(t, lines, 4)
	require.Equal(t, stream.EventTurnStarted, lines[0].Type)
	require.Equal(t, transport.EventTurnResult, lines[3].Type)
	require.Equal(t, "conv-1", lines[3].ConversationID)

	require.Equal(t, "hello", rt.input.Message)
	require.Equal(t, "auth0|alice", rt.principal.Subject)
	require.Equal(t, "rt-1", rt.principal.RefreshToken.Reveal())
	require.Equal(t, []stream.EventType{stream.EventTurnStarted, stream.EventAssistantReply, stream.EventTurnEnd}, published.Types())
}

func TestChatRequiresSession(t *testing.T) {
	srv := newServer(t, transport.Options{Runtime: &fakeRuntime{}})
	require.Equal(t, http.StatusUnauthorized, post(t, srv.URL+"/api/chat", "", `{"message":"hi"}`).StatusCode)
	require.Equal(t, http.StatusUnauthorized, post(t, srv.URL+"/api/chat", "forged", `{"message":"hi"}`).StatusCode)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	srv := newServer(t, transport.Options{Runtime: &fakeRuntime{}})
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/api/chat", "good", `{"message":"  "}`).StatusCode)
	require.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/api/chat", "good", ``).StatusCode)
}

func TestResumeMapsInvalidToken(t *testing.T) {
	srv := newServer(t, transport.Options{Runtime: &fakeRuntime{err: interrupt.ErrInvalidResumeToken}})
	resp := post(t, srv.URL+"/api/chat/resume", "good", `{"resumeToken":"tampered"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "invalid_resume_token", body["error"])
}

func TestResumeDuplicateStillReturnsResult(t *testing.T) {
	srv := newServer(t, transport.Options{Runtime: &fakeRuntime{}})
	resp := post(t, srv.URL+"/api/chat/resume", "good", `{"resumeToken":"tok"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lines := readLines(t, resp)
	require.Len(t, lines, 1)
	payload, err := json.Marshal(lines[0].Payload)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"duplicate":true`)
}

func TestCIBACallbackRefreshesAndPublishes(t *testing.T) {
	ref := &fakeRefresher{req: ciba.Request{ID: "areq-1", ToolCallKey: "conv-1/call-1", Status: ciba.StatusApproved}}
	published := &stream.Recorder{}
	srv := newServer(t, transport.Options{Runtime: &fakeRuntime{}, Approvals: ref, Events: published, CallbackToken: "cb-secret"})

	require.Equal(t, http.StatusUnauthorized, post(t, srv.URL+"/api/ciba/callback", "wrong", `{"auth_req_id":"areq-1"}`).StatusCode)
	require.Empty(t, ref.got)

	resp := post(t, srv.URL+"/api/ciba/callback", "cb-secret", `{"auth_req_id":"areq-1"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "areq-1", ref.got)
	events := published.Events()
	require.Len(t, events, 1)
	require.Equal(t, stream.EventApprovalResolved, events[0].Type())
	require.Equal(t, "conv-1", events[0].ConversationID())
}

func TestCIBACallbackPendingDoesNotPublish(t *testing.T) {
	ref := &fakeRefresher{req: ciba.Request{ID: "areq-1", Status: ciba.StatusPending}}
	published := &stream.Recorder{}
	srv := newServer(t, transport.Options{Runtime: &fakeRuntime{}, Approvals: ref, Events: published})
	require.Equal(t, http.StatusNoContent, post(t, srv.URL+"/api/ciba/callback", "", `{"auth_req_id":"areq-1"}`).StatusCode)
	require.Empty(t, published.Events())

	ref.err = ciba.ErrRequestNotFound
	require.Equal(t, http.StatusNotFound, post(t, srv.URL+"/api/ciba/callback", "", `{"auth_req_id":"nope"}`).StatusCode)
}

func TestGetConversationHidesToolResults(t *testing.T) {
	call := model.ToolCall{ID: "c1", Name: "get_tasks"}
	rt := &fakeRuntime{conv: session.Conversation{
		ID:     "conv-1",
		Status: session.StatusPaused,
		Turn:   1,
		Messages: []model.Message{
			model.UserMessage("my tasks?"),
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{call}},
			model.ToolResult(call, "secret vendor payload", false),
		},
		Pending: &session.PendingCall{Call: call, Kind: string(interrupt.KindAuthorization), Connection: "google-oauth2"},
	}}
	srv := newServer(t, transport.Options{Runtime: rt})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/conversations/conv-1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view transport.ConversationView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	require.Len(t, view.Messages, 2)
	require.Equal(t, []string{"get_tasks"}, view.Messages[1].ToolCalls)
	require.NotNil(t, view.Pending)
	require.Equal(t, "google-oauth2", view.Pending.Connection)

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/conversations/other", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFollowConversationStreamsEvents(t *testing.T) {
	rt := &fakeRuntime{conv: session.Conversation{ID: "conv-1"}}
	follow := func(ctx context.Context, id string) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
		events := make(chan stream.Event, 1)
		errs := make(chan error)
		events <- stream.ApprovalResolved(ciba.Request{ID: "areq-1", ToolCallKey: id + "/c1", Status: ciba.StatusDenied})
		close(events)
		return events, errs, func() {}, nil
	}
	srv := newServer(t, transport.Options{Runtime: rt, Follow: follow})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/conversations/conv-1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	lines := readLines(t, resp)
	require.Len(t, lines, 1)
	require.Equal(t, stream.EventApprovalResolved, lines[0].Type)
}

type failingSink struct{}

func (failingSink) Send(context.Context, stream.Event) error { return errors.New("redis down") }
func (failingSink) Close(context.Context) error              { return nil }

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestEventLogRecordsTurnsAndPages(t *testing.T) {
	rt := &fakeRuntime{conv: session.Conversation{ID: "conv-1"}}
	srv := newServer(t, transport.Options{Runtime: rt, Events: failingSink{}, EventLog: eventloginmem.New()})

	resp := post(t, srv.URL+"/api/chat", "good", `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, readLines(t, resp), 4)

	var page transport.EventLogView
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/conversations/conv-1/log?limit=2", &page))
	require.Len(t, page.Events, 2)
	require.Equal(t, string(stream.EventTurnStarted), page.Events[0].Type)
	require.Equal(t, "1", page.Events[0].TurnID)
	require.Equal(t, "2", page.NextCursor)

	var rest transport.EventLogView
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/conversations/conv-1/log?cursor="+page.NextCursor, &rest))
	require.Len(t, rest.Events, 1)
	require.Equal(t, string(stream.EventTurnEnd), rest.Events[0].Type)
	require.JSONEq(t, `{"status":"completed"}`, string(rest.Events[0].Payload))
	require.Empty(t, rest.NextCursor)
}

func TestEventLogErrors(t *testing.T) {
	rt := &fakeRuntime{conv: session.Conversation{ID: "conv-1"}}
	srv := newServer(t, transport.Options{Runtime: rt, EventLog: eventloginmem.New()})

	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/conversations/conv-1/log?limit=0", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/conversations/conv-1/log?cursor=abc", nil))
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/conversations/other/log", nil))
}

func TestHealthEndpoints(t *testing.T) {
	srv := newServer(t, transport.Options{Runtime: &fakeRuntime{}, Pingers: []health.Pinger{failingPinger{}}})

	resp, err := http.Get(srv.URL + "/livez")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := transport.New(transport.Options{Sessions: fakeVerifier{}})
	require.Error(t, err)
	_, err = transport.New(transport.Options{Runtime: &fakeRuntime{}, Sessions: fakeVerifier{}})
	require.Error(t, err)
}
