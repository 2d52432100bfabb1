package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenpu17/ai-browser/internal/llm"
)

func TestPlanByRuleCompare(t *testing.T) {
	step, ok := planByRule(Spec{
		Goal: "compare the prices on https://a.example.com/item and https://b.example.com/item",
	})
	require.True(t, ok)
	assert.Equal(t, StepTemplate, step.Kind)
	assert.Equal(t, TemplateMultiTabDiff, step.TemplateID)
	assert.Equal(t, []any{"https://a.example.com/item", "https://b.example.com/item"}, step.Inputs["urls"])
}

func TestPlanByRuleCompareChinese(t *testing.T) {
	step, ok := planByRule(Spec{
		Goal: "对比 https://a.example.com 和 https://b.example.com 的商品价格",
	})
	require.True(t, ok)
	assert.Equal(t, TemplateMultiTabDiff, step.TemplateID)
}

func TestPlanByRuleExtract(t *testing.T) {
	step, ok := planByRule(Spec{
		Goal: "extract the article titles from https://news.example.com",
	})
	require.True(t, ok)
	assert.Equal(t, TemplateBatchExtract, step.TemplateID)
	assert.Equal(t, []any{"https://news.example.com"}, step.Inputs["urls"])
}

func TestPlanByRuleExtractChinese(t *testing.T) {
	step, ok := planByRule(Spec{Goal: "抓取 https://news.example.com 上的标题"})
	require.True(t, ok)
	assert.Equal(t, TemplateBatchExtract, step.TemplateID)
}

func TestPlanByRuleLoginNeedsCredentials(t *testing.T) {
	spec := Spec{Goal: "login to https://app.example.com and keep the session"}

	_, ok := planByRule(spec)
	assert.False(t, ok, "login without credentials is not a template match")

	spec.Inputs = map[string]any{"username": "alice", "password": "hunter2"}
	step, ok := planByRule(spec)
	require.True(t, ok)
	assert.Equal(t, TemplateLoginSession, step.TemplateID)
	assert.Equal(t, "https://app.example.com", step.Inputs["url"])
	assert.Equal(t, "alice", step.Inputs["username"])
}

func TestPlanByRuleNoMatch(t *testing.T) {
	_, ok := planByRule(Spec{Goal: "find the cheapest flight to Tokyo next month"})
	assert.False(t, ok)
}

func TestPlanLLMDecomposition(t *testing.T) {
	client := llm.NewMockClient(&llm.CompletionResponse{
		Content: "```json\n[{\"kind\":\"agent_goal\",\"goal\":\"open the airline site\"},{\"kind\":\"agent_goal\",\"goal\":\"search for flights to Tokyo\"}]\n```",
	})
	p := NewPlanner(client, nil)

	steps := p.Plan(context.Background(), Spec{Goal: "find the cheapest flight to Tokyo"})
	require.Len(t, steps, 2)
	assert.Equal(t, StepAgentGoal, steps[0].Kind)
	assert.Equal(t, "open the airline site", steps[0].Goal)
	assert.Equal(t, "search for flights to Tokyo", steps[1].Goal)
}

func TestPlanLLMFailureFallsBackToSingleStep(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueError(errors.New("endpoint down"))
	p := NewPlanner(client, nil)

	steps := p.Plan(context.Background(), Spec{Goal: "do the thing"})
	require.Len(t, steps, 1)
	assert.Equal(t, StepAgentGoal, steps[0].Kind)
	assert.Equal(t, "do the thing", steps[0].Goal)
}

func TestPlanLLMGarbageFallsBack(t *testing.T) {
	client := llm.NewMockClient(&llm.CompletionResponse{Content: "I cannot split this task."})
	p := NewPlanner(client, nil)

	steps := p.Plan(context.Background(), Spec{Goal: "do the thing"})
	require.Len(t, steps, 1)
	assert.Equal(t, "do the thing", steps[0].Goal)
}

func TestPlanLLMCapsAtFourSteps(t *testing.T) {
	client := llm.NewMockClient(&llm.CompletionResponse{
		Content: `[{"goal":"a"},{"goal":"b"},{"goal":"c"},{"goal":"d"},{"goal":"e"},{"goal":"f"}]`,
	})
	p := NewPlanner(client, nil)

	steps := p.Plan(context.Background(), Spec{Goal: "huge task"})
	assert.Len(t, steps, 4)
}

func TestPlanRuleBeatsLLM(t *testing.T) {
	// A rule match never consults the model.
	client := llm.NewMockClient()
	p := NewPlanner(client, nil)

	steps := p.Plan(context.Background(), Spec{
		Goal: "scrape https://example.com for links",
	})
	require.Len(t, steps, 1)
	assert.Equal(t, TemplateBatchExtract, steps[0].TemplateID)
	assert.Empty(t, client.Calls())
}
