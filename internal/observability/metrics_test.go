package observability

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenpu17/ai-browser/internal/llm"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.SessionOpened()
	m.RunFinished("succeeded", 3*time.Second)
	m.ToolExecuted("click", true, 50*time.Millisecond)
	m.ToolExecuted("navigate", false, 2*time.Second)

	body := scrape(t, m)
	assert.Contains(t, body, `aibrowser_sessions_active 1`)
	assert.Contains(t, body, `aibrowser_runs_total{status="succeeded"} 1`)
	assert.Contains(t, body, `aibrowser_tool_executions_total{outcome="ok",tool="click"} 1`)
	assert.Contains(t, body, `aibrowser_tool_executions_total{outcome="error",tool="navigate"} 1`)

	m.SessionClosed()
	assert.Contains(t, scrape(t, m), `aibrowser_sessions_active 0`)
}

func TestWrapLLMRecordsUsage(t *testing.T) {
	m := New()
	inner := llm.NewMockClient(&llm.CompletionResponse{
		Content: "hi",
		Usage:   llm.TokenUsage{PromptTokens: 120, CompletionTokens: 30},
	})
	inner.EnqueueError(errors.New("upstream down"))

	client := WrapLLM(inner, m)
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)

	body := scrape(t, m)
	assert.Contains(t, body, `aibrowser_llm_requests_total{outcome="ok"} 1`)
	assert.Contains(t, body, `aibrowser_llm_requests_total{outcome="error"} 1`)
	assert.Contains(t, body, `aibrowser_llm_tokens_total{direction="prompt"} 120`)
	assert.Contains(t, body, `aibrowser_llm_tokens_total{direction="completion"} 30`)

	assert.Equal(t, "mock", client.Model())
}
