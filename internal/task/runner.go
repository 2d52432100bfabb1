package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chenpu17/ai-browser/internal/events"
	"github.com/chenpu17/ai-browser/internal/logging"
)

const defaultMaxRepairs = 1

// GoalRunner executes a free-form browsing goal against a session. The agent
// loop satisfies it through a thin adapter at wiring time.
type GoalRunner interface {
	RunGoal(ctx context.Context, sessionID, goal string, stream *events.Stream) (result string, success bool, err error)
}

// Runner turns a task spec into a run executor: plan, execute each step,
// verify the result against the output schema, and repair when it falls
// short.
type Runner struct {
	planner   *Planner
	templates *Templates
	goals     GoalRunner
	logger    logging.Logger
}

func NewRunner(planner *Planner, templates *Templates, goals GoalRunner, logger logging.Logger) *Runner {
	return &Runner{planner: planner, templates: templates, goals: goals, logger: logging.OrNop(logger)}
}

type stepOutcome struct {
	Kind       StepKind `json:"kind"`
	TemplateID string   `json:"templateId,omitempty"`
	Goal       string   `json:"goal,omitempty"`
	OK         bool     `json:"ok"`
	Result     any      `json:"result,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Executor builds the run body for a spec bound to a session.
func (r *Runner) Executor(spec Spec, sessionID string) Executor {
	return func(ctx context.Context, rc RunContext) (any, error) {
		steps := r.planner.Plan(ctx, spec)
		rc.Report(Progress{TotalSteps: len(steps)})

		outcomes := make([]stepOutcome, 0, len(steps))
		for i, step := range steps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcome := r.runStep(ctx, step, sessionID, rc)
			outcomes = append(outcomes, outcome)
			rc.Report(Progress{TotalSteps: len(steps), DoneSteps: i + 1})
			if !outcome.OK && len(steps) == 1 {
				return nil, fmt.Errorf("%s", outcome.Error)
			}
		}

		result := aggregate(outcomes)
		if len(spec.OutputSchema) > 0 {
			result = r.verifyAndRepair(ctx, spec, sessionID, rc, result)
		}
		return result, nil
	}
}

func (r *Runner) runStep(ctx context.Context, step Step, sessionID string, rc RunContext) stepOutcome {
	outcome := stepOutcome{Kind: step.Kind, TemplateID: step.TemplateID, Goal: step.Goal}
	switch step.Kind {
	case StepTemplate:
		result, err := r.templates.Execute(ctx, step.TemplateID, sessionID, step.Inputs, nil)
		if err != nil {
			outcome.Error = err.Error()
			return outcome
		}
		outcome.OK = true
		outcome.Result = result
	case StepAgentGoal:
		text, success, err := r.goals.RunGoal(ctx, sessionID, step.Goal, rc.Stream)
		if err != nil {
			outcome.Error = err.Error()
			return outcome
		}
		outcome.OK = success
		outcome.Result = text
		if !success {
			outcome.Error = text
		}
	default:
		outcome.Error = fmt.Sprintf("unknown step kind: %s", step.Kind)
	}
	return outcome
}

// aggregate folds step outcomes into the run result. A single step passes
// its own result through; multiple steps produce a summary plus the list.
func aggregate(outcomes []stepOutcome) any {
	if len(outcomes) == 1 {
		only := outcomes[0]
		if obj, ok := only.Result.(map[string]any); ok {
			return obj
		}
		result := map[string]any{"success": only.OK}
		if text, ok := only.Result.(string); ok && text != "" {
			result["result"] = text
		}
		if only.Error != "" {
			result["error"] = only.Error
		}
		return result
	}

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.OK {
			succeeded++
		}
	}
	return map[string]any{
		"summary": map[string]any{"succeeded": succeeded, "total": len(outcomes)},
		"steps":   outcomes,
	}
}

// verifyAndRepair checks the result payload against the output schema and,
// when it falls short, sends a repair goal describing exactly what is
// missing. Repaired fields are merged over the payload.
func (r *Runner) verifyAndRepair(ctx context.Context, spec Spec, sessionID string, rc RunContext, result any) any {
	payload := extractPayload(result)
	verification := Verify(payload, spec.OutputSchema)

	maxRepairs := spec.Budget.MaxRetries
	if maxRepairs <= 0 {
		maxRepairs = defaultMaxRepairs
	}

	for attempt := 0; !verification.Pass && attempt < maxRepairs; attempt++ {
		if ctx.Err() != nil {
			break
		}
		goal := repairGoal(spec, verification)
		r.logger.Info("result verification failed (score %.2f), repairing: %s", verification.Score, verification.Reason)
		text, success, err := r.goals.RunGoal(ctx, sessionID, goal, rc.Stream)
		if err != nil || !success {
			break
		}
		if patch := parseJSONObject(text); patch != nil {
			payload = mergePayload(payload, patch)
		}
		verification = Verify(payload, spec.OutputSchema)
	}

	out := map[string]any{"verification": verification}
	if obj, ok := result.(map[string]any); ok {
		for k, v := range obj {
			out[k] = v
		}
	} else {
		out["result"] = result
	}
	if obj, ok := payload.(map[string]any); ok {
		out["data"] = obj
	}
	return out
}

// extractPayload picks the value to verify: a JSON object parsed out of an
// agent's text result when present, otherwise the result itself.
func extractPayload(result any) any {
	obj, ok := result.(map[string]any)
	if !ok {
		return result
	}
	if text, ok := obj["result"].(string); ok {
		if parsed := parseJSONObject(text); parsed != nil {
			return parsed
		}
	}
	if data, ok := obj["data"].(map[string]any); ok {
		return data
	}
	return obj
}

func parseJSONObject(text string) map[string]any {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}

func mergePayload(base any, patch map[string]any) any {
	obj, ok := base.(map[string]any)
	if !ok {
		return patch
	}
	merged := make(map[string]any, len(obj)+len(patch))
	for k, v := range obj {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

func repairGoal(spec Spec, v Verification) string {
	var sb strings.Builder
	sb.WriteString("The previous attempt at this task produced an incomplete result. Original task: ")
	sb.WriteString(spec.Goal)
	sb.WriteString("\n")
	if len(v.MissingFields) > 0 {
		sb.WriteString(fmt.Sprintf("Missing fields: %s.\n", strings.Join(v.MissingFields, ", ")))
	}
	if len(v.TypeMismatches) > 0 {
		sb.WriteString(fmt.Sprintf("Fields with the wrong type: %s.\n", strings.Join(v.TypeMismatches, ", ")))
	}
	if schema, err := json.Marshal(spec.OutputSchema); err == nil {
		sb.WriteString("Produce ONLY a JSON object matching this schema: ")
		sb.Write(schema)
	}
	return sb.String()
}
