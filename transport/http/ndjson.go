package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/assistant0/assistant0/runtime/agent/stream"
)

// ndjsonSink writes events as newline-delimited JSON envelopes and flushes
// after each one. The response header is written with the first event.
type ndjsonSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	enc     *json.Encoder
	now     func() time.Time
	started bool
	closed  bool
}

func newNDJSONSink(w http.ResponseWriter, now func() time.Time) *ndjsonSink {
	return &ndjsonSink{w: w, rc: http.NewResponseController(w), enc: json.NewEncoder(w), now: now}
}

func (s *ndjsonSink) Send(_ context.Context, ev stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrSinkClosed
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "application/x-ndjson")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := s.enc.Encode(stream.Wrap(ev, s.now())); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func (s *ndjsonSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Started reports whether the response header was written.
func (s *ndjsonSink) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// bestEffort forwards events to a secondary sink without failing the
// caller.
type bestEffort struct {
	sink stream.Sink
}

func (b bestEffort) Send(ctx context.Context, ev stream.Event) error {
	if err := b.sink.Send(ctx, ev); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "event publish failed"}, log.KV{K: "event", V: string(ev.Type())})
	}
	return nil
}

func (bestEffort) Close(context.Context) error { return nil }
