package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient replays scripted responses in order. Used by tests across the
// agent and task packages.
type MockClient struct {
	mu        sync.Mutex
	responses []*CompletionResponse
	errs      []error
	calls     []CompletionRequest
	index     int
}

// NewMockClient creates a mock that returns the given responses in sequence.
func NewMockClient(responses ...*CompletionResponse) *MockClient {
	return &MockClient{responses: responses, errs: make([]error, len(responses))}
}

// Enqueue appends another scripted response.
func (m *MockClient) Enqueue(resp *CompletionResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
}

// EnqueueError appends a scripted failure.
func (m *MockClient) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
}

func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.index >= len(m.responses) {
		return nil, fmt.Errorf("mock llm: no scripted response for call %d", m.index+1)
	}
	i := m.index
	m.index++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	resp := m.responses[i]
	if resp.StopReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = "tool_calls"
		} else {
			resp.StopReason = "stop"
		}
	}
	return resp, nil
}

func (m *MockClient) Model() string { return "mock" }

// Calls returns a copy of every request seen so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.calls))
	copy(out, m.calls)
	return out
}
