package task

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/chenpu17/ai-browser/internal/llm"
	"github.com/chenpu17/ai-browser/internal/logging"
)

// Template identifiers. Each has a deterministic executor in templates.go.
const (
	TemplateBatchExtract = "batch_extract_pages"
	TemplateMultiTabDiff = "multi_tab_compare"
	TemplateLoginSession = "login_keep_session"
)

var goalURLPattern = regexp.MustCompile(`https?://[^\s"'<>，。]+`)

var compareKeywords = []string{"compare", "diff", "difference", "对比", "比较", "比价"}

var extractKeywords = []string{"extract", "scrape", "collect", "抓取", "提取", "采集", "获取"}

var loginKeywords = []string{"login", "log in", "sign in", "登录", "登陆"}

// Planner decomposes a task spec into executable steps. Rule matches pick a
// template directly; everything else falls through to the LLM, and when that
// fails the goal runs as a single agent step.
type Planner struct {
	client llm.Client
	logger logging.Logger
}

func NewPlanner(client llm.Client, logger logging.Logger) *Planner {
	return &Planner{client: client, logger: logging.OrNop(logger)}
}

// Plan returns at least one step.
func (p *Planner) Plan(ctx context.Context, spec Spec) []Step {
	if step, ok := planByRule(spec); ok {
		return []Step{step}
	}
	if steps := p.planByLLM(ctx, spec); len(steps) > 0 {
		return steps
	}
	return []Step{{Kind: StepAgentGoal, Goal: spec.Goal}}
}

func planByRule(spec Spec) (Step, bool) {
	goal := strings.ToLower(spec.Goal)
	urls := goalURLPattern.FindAllString(spec.Goal, -1)

	if len(urls) >= 2 && containsAny(goal, compareKeywords) {
		return Step{
			Kind:       StepTemplate,
			TemplateID: TemplateMultiTabDiff,
			Inputs:     mergeInputs(spec.Inputs, map[string]any{"urls": toAnySlice(urls)}),
		}, true
	}
	if len(urls) >= 1 && containsAny(goal, extractKeywords) {
		return Step{
			Kind:       StepTemplate,
			TemplateID: TemplateBatchExtract,
			Inputs:     mergeInputs(spec.Inputs, map[string]any{"urls": toAnySlice(urls)}),
		}, true
	}
	if containsAny(goal, loginKeywords) && hasLoginInputs(spec.Inputs) {
		inputs := mergeInputs(spec.Inputs, nil)
		if len(urls) > 0 {
			if _, ok := inputs["url"]; !ok {
				inputs["url"] = urls[0]
			}
		}
		return Step{Kind: StepTemplate, TemplateID: TemplateLoginSession, Inputs: inputs}, true
	}
	return Step{}, false
}

const plannerPrompt = `You decompose a browsing task into an ordered JSON array of steps.
Each step is {"kind":"agent_goal","goal":"..."} describing one self-contained browsing objective.
Use 1-4 steps. Prefer a single step unless the task clearly has independent phases.
Respond with ONLY the JSON array.`

// planByLLM asks the model to split the goal. Any failure is silent: the
// caller falls back to a single agent step.
func (p *Planner) planByLLM(ctx context.Context, spec Spec) []Step {
	if p.client == nil {
		return nil
	}
	resp, err := p.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: plannerPrompt},
			{Role: "user", Content: spec.Goal},
		},
		Temperature: 0,
		MaxTokens:   800,
	})
	if err != nil {
		p.logger.Debug("planner LLM decomposition failed: %v", err)
		return nil
	}

	content := strings.TrimSpace(resp.Content)
	if start := strings.Index(content, "["); start >= 0 {
		if end := strings.LastIndex(content, "]"); end > start {
			content = content[start : end+1]
		}
	}

	var raw []struct {
		Kind string `json:"kind"`
		Goal string `json:"goal"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		p.logger.Debug("planner output not parseable: %v", err)
		return nil
	}

	steps := make([]Step, 0, len(raw))
	for _, item := range raw {
		if strings.TrimSpace(item.Goal) == "" {
			continue
		}
		steps = append(steps, Step{Kind: StepAgentGoal, Goal: item.Goal, Inputs: spec.Inputs})
	}
	if len(steps) > 4 {
		steps = steps[:4]
	}
	return steps
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func hasLoginInputs(inputs map[string]any) bool {
	if inputs == nil {
		return false
	}
	_, hasUser := inputs["username"]
	_, hasPass := inputs["password"]
	return hasUser && hasPass
}

func mergeInputs(base map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
