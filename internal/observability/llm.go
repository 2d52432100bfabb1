package observability

import (
	"context"
	"time"

	"github.com/chenpu17/ai-browser/internal/llm"
)

// instrumentedClient wraps an LLM client and records every completion.
type instrumentedClient struct {
	inner   llm.Client
	metrics *Metrics
}

// WrapLLM returns a client that records request counts, latency, and token
// usage for every completion.
func WrapLLM(inner llm.Client, metrics *Metrics) llm.Client {
	if metrics == nil {
		return inner
	}
	return &instrumentedClient{inner: inner, metrics: metrics}
}

func (c *instrumentedClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	started := time.Now()
	resp, err := c.inner.Complete(ctx, req)
	var prompt, completion int
	if resp != nil {
		prompt = resp.Usage.PromptTokens
		completion = resp.Usage.CompletionTokens
	}
	c.metrics.LLMRequest(err, time.Since(started), prompt, completion)
	return resp, err
}

func (c *instrumentedClient) Model() string { return c.inner.Model() }
