package events

import (
	"sync"
	"time"
)

// Stream buffers the events of one run and fans them out to subscribers.
// A late subscriber receives the entire buffered sequence before any live
// event; replay and attach happen under one lock so no event can interleave.
// A done event is terminal: it is delivered last and closes the stream.
type Stream struct {
	mu        sync.Mutex
	buffer    []Event
	listeners []chan Event
	closed    bool
}

const subscriberBuffer = 256

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{}
}

// Publish appends an event and delivers it to every subscriber. Events
// published after the done event are dropped.
func (s *Stream) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buffer = append(s.buffer, event)
	for _, ch := range s.listeners {
		select {
		case ch <- event:
		default:
			// Slow subscriber: drop rather than block the run.
		}
	}
	if event.Type == TypeDone {
		s.closed = true
		for _, ch := range s.listeners {
			close(ch)
		}
		s.listeners = nil
	}
}

// Subscribe returns a channel that first yields every buffered event, then
// live events in generation order. The channel closes after the done event
// or when cancel is invoked.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, subscriberBuffer+len(s.buffer))
	for _, event := range s.buffer {
		ch <- event
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.listeners = append(s.listeners, ch)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Events returns a copy of the buffered events.
func (s *Stream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.buffer))
	copy(out, s.buffer)
	return out
}

// Closed reports whether the terminal done event has been published.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
