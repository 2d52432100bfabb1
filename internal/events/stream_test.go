package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamReplaysBufferedEventsBeforeLive(t *testing.T) {
	s := NewStream()
	s.Publish(Event{Type: TypeThinking, Iteration: 1})
	s.Publish(Event{Type: TypeToolCall, Iteration: 1})

	sub, cancel := s.Subscribe()
	defer cancel()

	first := <-sub
	second := <-sub
	assert.Equal(t, TypeThinking, first.Type)
	assert.Equal(t, TypeToolCall, second.Type)

	s.Publish(Event{Type: TypeToolResult, Iteration: 1})
	third := <-sub
	assert.Equal(t, TypeToolResult, third.Type)
}

func TestStreamDoneIsTerminal(t *testing.T) {
	s := NewStream()
	sub, cancel := s.Subscribe()
	defer cancel()

	s.Publish(Event{Type: TypeDone})
	event, open := <-sub
	require.True(t, open)
	assert.Equal(t, TypeDone, event.Type)

	_, open = <-sub
	assert.False(t, open, "channel should close after done")
	assert.True(t, s.Closed())

	// Late publishes are dropped.
	s.Publish(Event{Type: TypeError})
	assert.Len(t, s.Events(), 1)
}

func TestStreamLateSubscriberGetsFullReplay(t *testing.T) {
	s := NewStream()
	s.Publish(Event{Type: TypeThinking})
	s.Publish(Event{Type: TypeDone})

	sub, cancel := s.Subscribe()
	defer cancel()

	var got []Type
	for event := range sub {
		got = append(got, event.Type)
	}
	assert.Equal(t, []Type{TypeThinking, TypeDone}, got)
}

func TestStreamStampsTimestamps(t *testing.T) {
	s := NewStream()
	before := time.Now()
	s.Publish(Event{Type: TypeProgress})
	events := s.Events()
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
}

func TestStreamCancelDetaches(t *testing.T) {
	s := NewStream()
	sub, cancel := s.Subscribe()
	cancel()
	_, open := <-sub
	assert.False(t, open)

	// Publishing after cancel must not panic or block.
	s.Publish(Event{Type: TypeThinking})
}
