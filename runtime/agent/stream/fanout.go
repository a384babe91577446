package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned by Send after Close.
var ErrSinkClosed = errors.New("stream: sink closed")

// Fanout sends every event to a set of sinks. Delivery stops at the first
// failing sink so transport errors surface to the caller.
type Fanout struct {
	sinks []Sink
}

// NewFanout returns a sink forwarding to sinks. Nil sinks are skipped.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Send implements Sink.
func (f *Fanout) Send(ctx context.Context, event Event) error {
	for _, s := range f.sinks {
		if err := s.Send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Sink. It closes every sink and joins their errors.
func (f *Fanout) Close(ctx context.Context) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is a Sink that keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrSinkClosed
	}
	r.events = append(r.events, event)
	return nil
}

// Close implements Sink.
func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Events returns the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}
