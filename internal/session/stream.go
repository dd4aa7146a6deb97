package session

import (
	"context"
	"iter"
	"sync"
)

// Stream is the live log channel of one connected client.
type Stream struct {
	r         *Registry
	id        string
	q         *lineQueue
	closeOnce sync.Once
}

func newStream(r *Registry, id string) *Stream {
	return &Stream{r: r, id: id, q: newLineQueue()}
}

func (s *Stream) ClientID() string {
	return s.id
}

// Next blocks until the next line arrives. It returns ErrStreamClosed once
// the stream was closed or replaced, or the ctx error.
func (s *Stream) Next(ctx context.Context) (string, error) {
	return s.q.pop(ctx)
}

// Lines iterates over the stream until it is closed or ctx is done.
func (s *Stream) Lines(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			line, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(line) {
				return
			}
		}
	}
}

// Close detaches the stream from its client session, if it is still the
// current one. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.q.close()
		s.r.submit(op{kind: opDetach, id: s.id, stream: s})
	})
}
