package events

import "time"

// Type enumerates the closed set of event kinds streamed to subscribers.
type Type string

const (
	TypeSessionCreated   Type = "session_created"
	TypeThinking         Type = "thinking"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeDone             Type = "done"
	TypeError            Type = "error"
	TypeProgress         Type = "progress"
	TypeSubgoalCompleted Type = "subgoal_completed"
	TypeInputRequired    Type = "input_required"
	TypeMemoryRecall     Type = "memory_recall"
)

// Event is one tagged record in a run's stream.
type Event struct {
	Type      Type           `json:"type"`
	Iteration int            `json:"iteration,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Listener receives events in generation order.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }
