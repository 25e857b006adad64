package provider

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrStreamClosed is returned from Yield once the consumer closed the stream.
	ErrStreamClosed = errors.New("stream closed")
	// ErrAfterTerminal is returned from Yield when an event follows the terminal event.
	ErrAfterTerminal = errors.New("event after terminal event")
	// ErrNoTerminal is reported by Err when a producer returned without a terminal event.
	ErrNoTerminal = errors.New("stream ended without a terminal event")
)

// Yield hands one event to the consumer. It blocks until the event was
// received or the stream was closed.
type Yield func(StreamEvent) error

// Producer generates the events of a stream. Returning a non-nil error
// before a terminal event was yielded fails the stream with that error.
type Producer func(ctx context.Context, yield Yield) error

// Stream is a pull-based sequence of events fed by a producer goroutine.
//
// A stream is terminated by exactly one terminal event (Done or ErrorEvent)
// or by an error reported from Err; nothing is delivered after either.
type Stream struct {
	events chan StreamEvent
	stop   context.CancelFunc
	closed chan struct{}

	closeOnce sync.Once

	current StreamEvent
	err     error

	// written by the producer goroutine before events is closed
	producerErr error
}

// NewStream starts fn on its own goroutine and returns the consuming side.
// The context passed to fn is cancelled when the stream is closed.
func NewStream(ctx context.Context, fn Producer) *Stream {
	ctx, stop := context.WithCancel(ctx)
	s := &Stream{
		events: make(chan StreamEvent),
		stop:   stop,
		closed: make(chan struct{}),
	}
	go s.run(ctx, fn)
	return s
}

// Failed returns a stream that immediately fails with err.
func Failed(err error) *Stream {
	return NewStream(context.Background(), func(context.Context, Yield) error {
		return err
	})
}

func (s *Stream) run(ctx context.Context, fn Producer) {
	defer close(s.events)

	var terminated bool
	yield := func(ev StreamEvent) error {
		if ev == nil {
			return nil
		}
		if terminated {
			return ErrAfterTerminal
		}
		select {
		case s.events <- ev:
			terminated = IsTerminal(ev)
			return nil
		case <-s.closed:
			return ErrStreamClosed
		}
	}

	err := fn(ctx, yield)
	switch {
	case terminated:
		// the consumer already saw the end of the stream
	case err != nil:
		s.producerErr = err
	default:
		s.producerErr = ErrNoTerminal
	}
}

// Next advances to the next event. It returns false once the stream ended;
// Err then reports why.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	ev, ok := <-s.events
	if !ok {
		s.current = nil
		if !errors.Is(s.producerErr, ErrStreamClosed) {
			s.err = s.producerErr
		}
		return false
	}
	s.current = ev
	return true
}

// Current returns the event Next advanced to.
func (s *Stream) Current() StreamEvent {
	return s.current
}

// Err returns the failure that ended the stream, nil after a terminal event.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the producer and waits for it to return.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.stop()
		for range s.events {
		}
	})
	return nil
}

// Collect drains the stream into a slice. It is mostly useful in tests.
func Collect(s *Stream) ([]StreamEvent, error) {
	defer s.Close()
	var out []StreamEvent
	for s.Next() {
		out = append(out, s.Current())
	}
	return out, s.Err()
}
