// Package http exposes the assistant over HTTP: chat turns and resumes stream
// newline-delimited JSON events, the identity provider pings approval
// results, and conversations can be read back or followed live.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/assistant0/assistant0/runtime/agent/eventlog"
	"github.com/assistant0/assistant0/runtime/agent/runtime"
	"github.com/assistant0/assistant0/runtime/agent/session"
	"github.com/assistant0/assistant0/runtime/agent/stream"
	"github.com/assistant0/assistant0/runtime/auth"
	"github.com/assistant0/assistant0/runtime/auth/ciba"
)

// RefreshTokenHeader carries the session refresh token when the deployment
// exchanges refresh tokens.
const RefreshTokenHeader = "X-Refresh-Token"

type (
	// Runtime runs assistant turns. *runtime.Runtime implements it.
	Runtime interface {
		RunTurn(ctx context.Context, in runtime.TurnInput, sink stream.Sink) (runtime.TurnResult, error)
		Resume(ctx context.Context, resumeToken string, sink stream.Sink) (runtime.TurnResult, error)
		Conversation(ctx context.Context, id string) (session.Conversation, error)
	}

	// SessionVerifier authenticates bearer session tokens. *auth.Verifier
	// implements it.
	SessionVerifier interface {
		Verify(ctx context.Context, raw string) (auth.Principal, error)
	}

	// ApprovalRefresher polls an approval request once. *ciba.Flow
	// implements it.
	ApprovalRefresher interface {
		Refresh(ctx context.Context, id string) (ciba.Request, error)
	}

	// ApprovalNotifier hands approval pings to a background watcher.
	ApprovalNotifier interface {
		Notify(ctx context.Context, authReqID string) error
	}

	// FollowFunc subscribes to the live events of a conversation. cancel
	// stops the subscription and closes both channels.
	FollowFunc func(ctx context.Context, conversationID string) (events <-chan stream.Event, errs <-chan error, cancel context.CancelFunc, err error)

	// Options configures a Server.
	Options struct {
		// Runtime runs turns. Required.
		Runtime Runtime
		// Sessions authenticates requests. Required.
		Sessions SessionVerifier
		// Approvals refreshes approvals on provider pings. Required unless
		// Notifier is set.
		Approvals ApprovalRefresher
		// Notifier, when set, receives provider pings instead of Approvals.
		Notifier ApprovalNotifier
		// CallbackToken, when set, must be presented as a bearer token by the
		// provider ping.
		CallbackToken string
		// Events receives a copy of every event, e.g. a Pulse sink. Delivery
		// failures are logged.
		Events stream.Sink
		// Follow enables GET /api/conversations/{id}/events.
		Follow FollowFunc
		// EventLog records every event and enables
		// GET /api/conversations/{id}/log. Recording failures are logged.
		EventLog eventlog.Store
		// Pingers are checked by /healthz.
		Pingers []health.Pinger
		// Debug mounts the clue debug endpoints and logs request bodies.
		Debug bool
		// Now overrides the event timestamp clock in tests.
		Now func() time.Time
	}

	// Server holds the HTTP handlers.
	Server struct {
		runtime       Runtime
		sessions      SessionVerifier
		approvals     ApprovalRefresher
		notifier      ApprovalNotifier
		callbackToken string
		events        stream.Sink
		follow        FollowFunc
		eventLog      eventlog.Store
		checker       health.Checker
		debug         bool
		now           func() time.Time
	}
)

// New builds a Server.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Runtime == nil:
		return nil, errors.New("http: runtime is required")
	case opts.Sessions == nil:
		return nil, errors.New("http: session verifier is required")
	case opts.Approvals == nil && opts.Notifier == nil:
		return nil, errors.New("http: approval refresher or notifier is required")
	}
	s := &Server{
		runtime:       opts.Runtime,
		sessions:      opts.Sessions,
		approvals:     opts.Approvals,
		notifier:      opts.Notifier,
		callbackToken: opts.CallbackToken,
		follow:        opts.Follow,
		eventLog:      opts.EventLog,
		checker:       health.NewChecker(opts.Pingers...),
		debug:         opts.Debug,
		now:           opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	var published []stream.Sink
	if opts.Events != nil {
		published = append(published, bestEffort{sink: opts.Events})
	}
	if opts.EventLog != nil {
		published = append(published, bestEffort{sink: eventlog.NewSink(opts.EventLog, s.now)})
	}
	if len(published) > 0 {
		s.events = stream.NewFanout(published...)
	}
	return s, nil
}

// Mount registers the routes on mux.
func (s *Server) Mount(mux goahttp.Muxer) {
	mux.Handle(http.MethodPost, "/api/chat", s.authenticate(s.chat))
	mux.Handle(http.MethodPost, "/api/chat/resume", s.authenticate(s.resume))
	mux.Handle(http.MethodPost, "/api/ciba/callback", s.cibaCallback)
	mux.Handle(http.MethodGet, "/api/conversations/{id}", s.authenticate(s.conversation(mux)))
	if s.follow != nil {
		mux.Handle(http.MethodGet, "/api/conversations/{id}/events", s.authenticate(s.followEvents(mux)))
	}
	if s.eventLog != nil {
		mux.Handle(http.MethodGet, "/api/conversations/{id}/log", s.authenticate(s.eventHistory(mux)))
	}
	mux.Handle(http.MethodGet, "/healthz", health.Handler(s.checker))
	mux.Handle(http.MethodGet, "/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// Handler returns the complete HTTP handler with logging middleware. ctx
// carries the clue logger.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := goahttp.NewMuxer()
	if s.debug {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}
	s.Mount(mux)
	var handler http.Handler = mux
	if s.debug {
		handler = debug.HTTP()(handler)
	}
	return log.HTTP(ctx)(handler)
}
