package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/events"
	"github.com/chenpu17/ai-browser/internal/llm"
	"github.com/chenpu17/ai-browser/internal/tools"
)

// scriptedExecutor records every call and fails clicks with a missing
// element.
type scriptedExecutor struct {
	calls []tools.Call
}

func (e *scriptedExecutor) Execute(_ context.Context, call tools.Call) *tools.Result {
	e.calls = append(e.calls, call)
	if call.Name == tools.ToolClick {
		return &tools.Result{
			CallID:    call.ID,
			Tool:      call.Name,
			OK:        false,
			ErrorCode: aiberrors.CodeElementNotFound,
			Message:   "no element matches el-9",
		}
	}
	return &tools.Result{CallID: call.ID, Tool: call.Name, OK: true, Content: "ok"}
}

func newTestLoop(client llm.Client, stream *events.Stream) *Loop {
	return NewLoop(Options{
		Config:    Config{MaxIterations: 5, MaxConsecutiveErrors: 3},
		Client:    client,
		Stream:    stream,
		SessionID: "session-test",
	})
}

func TestLoopDoneToolEndsRun(t *testing.T) {
	client := llm.NewMockClient(&llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:        "call-1",
			Name:      "done",
			Arguments: `{"result": "found 3 laptops under $500", "success": true}`,
		}},
	})
	stream := events.NewStream()
	loop := newTestLoop(client, stream)

	result, err := loop.Run(context.Background(), "find cheap laptops")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "found 3 laptops under $500", result.Result)
	assert.Equal(t, 1, result.Iterations)

	// Exactly one terminal done event.
	var doneCount int
	for _, event := range stream.Events() {
		if event.Type == events.TypeDone {
			doneCount++
		}
	}
	assert.Equal(t, 1, doneCount)
	assert.True(t, stream.Closed())
}

func TestLoopDoneWithFailure(t *testing.T) {
	client := llm.NewMockClient(&llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			ID:        "call-1",
			Name:      "done",
			Arguments: `{"result": "the site is unreachable", "success": false}`,
		}},
	})
	loop := newTestLoop(client, nil)

	result, err := loop.Run(context.Background(), "do something")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unreachable")
}

func TestLoopPlainContentBecomesResult(t *testing.T) {
	client := llm.NewMockClient(&llm.CompletionResponse{
		Content: "The page says the store opens at 9am.",
	})
	loop := newTestLoop(client, nil)

	result, err := loop.Run(context.Background(), "when does the store open")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "The page says the store opens at 9am.", result.Result)
}

func TestLoopAbortsAfterConsecutiveLLMErrors(t *testing.T) {
	client := llm.NewMockClient()
	for i := 0; i < 5; i++ {
		client.EnqueueError(errors.New("upstream exploded"))
	}
	loop := NewLoop(Options{
		Config:    Config{MaxIterations: 5, MaxConsecutiveErrors: 2},
		Client:    client,
		SessionID: "session-test",
	})

	result, err := loop.Run(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Len(t, client.Calls(), 2)
}

func TestLoopToolTurnKeepsHintsAfterToolMessages(t *testing.T) {
	client := llm.NewMockClient(
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{
			{ID: "call-1", Name: tools.ToolClick, Arguments: `{"element_id": "el-9", "sessionId": "spoofed"}`},
			{ID: "call-2", Name: tools.ToolListTabs, Arguments: `{}`},
		}},
		&llm.CompletionResponse{ToolCalls: []llm.ToolCall{
			{ID: "call-3", Name: "done", Arguments: `{"result": "finished", "success": true}`},
		}},
	)
	executor := &scriptedExecutor{}
	loop := NewLoop(Options{
		Config:    Config{MaxIterations: 5, MaxConsecutiveErrors: 3},
		Client:    client,
		Bus:       executor,
		SessionID: "session-test",
	})

	result, err := loop.Run(context.Background(), "click the thing")
	require.NoError(t, err)
	assert.True(t, result.Success)

	// The session binding is authoritative regardless of model arguments.
	require.Len(t, executor.calls, 2)
	for _, call := range executor.calls {
		assert.Equal(t, "session-test", call.SessionID)
	}
	assert.Equal(t, tools.ToolClick, executor.calls[0].Name)
	assert.Equal(t, tools.ToolListTabs, executor.calls[1].Name)

	// In the follow-up request the tool messages stay contiguous behind
	// their assistant message; the recovery hint comes after all of them.
	requests := client.Calls()
	require.Len(t, requests, 2)
	messages := requests[1].Messages

	assistant := -1
	for i, m := range messages {
		if m.Role == "assistant" {
			assistant = i
		}
	}
	require.GreaterOrEqual(t, assistant, 0)
	require.Len(t, messages, assistant+4)
	assert.Equal(t, "tool", messages[assistant+1].Role)
	assert.Equal(t, "call-1", messages[assistant+1].ToolCallID)
	assert.Equal(t, "tool", messages[assistant+2].Role)
	assert.Equal(t, "call-2", messages[assistant+2].ToolCallID)
	assert.Equal(t, "user", messages[assistant+3].Role)
	assert.Contains(t, messages[assistant+3].Content, "get_page_info")

	records := loop.UsageRecords()
	require.Len(t, records, 2)
	assert.False(t, records[0].OK)
	assert.Equal(t, aiberrors.CodeElementNotFound, records[0].ErrorCode)
	assert.True(t, records[1].OK)
}

func TestLoopCannotRunTwice(t *testing.T) {
	client := llm.NewMockClient(&llm.CompletionResponse{Content: "done already"})
	loop := newTestLoop(client, nil)

	_, err := loop.Run(context.Background(), "first")
	require.NoError(t, err)

	_, err = loop.Run(context.Background(), "second")
	assert.Error(t, err, "a finished loop cannot be rerun")
}

func TestProgressEstimator(t *testing.T) {
	p := NewProgressEstimator()
	assert.Equal(t, 0.0, p.Estimate())

	p.ObserveTool("navigate", true)
	first := p.Estimate()
	assert.Greater(t, first, 0.0)

	p.ObserveTool("click", false)
	assert.Equal(t, first, p.Estimate(), "failed calls do not advance progress")

	for i := 0; i < 100; i++ {
		p.ObserveTool("navigate", true)
	}
	assert.LessOrEqual(t, p.Estimate(), 0.95)

	subgoals := p.ObserveContent("Opened the page. [SUBGOAL_DONE] reached the product list")
	require.Len(t, subgoals, 1)
	assert.Equal(t, "reached the product list", subgoals[0])
	assert.Equal(t, []string{"reached the product list"}, p.Subgoals())
}
