package memory

import (
	"fmt"
	"strings"
	"time"
)

// TraceStep is one tool invocation from a finished run, in execution order.
// The agent converts its usage records into this shape before capture.
type TraceStep struct {
	Tool string
	Args map[string]any
	OK   bool
	At   time.Time
}

// Capture converts the success trace of a run into patterns for the domain
// the run worked on: successful navigations become navigation_path patterns,
// repeated clicks become selector patterns, and the task summary becomes a
// task_intent pattern. Duplicate (type, value) pairs are collapsed.
func Capture(task string, steps []TraceStep) []Pattern {
	now := time.Now()
	var out []Pattern
	seen := make(map[string]bool)
	add := func(p Pattern) {
		if p.Value == "" {
			return
		}
		if len(p.Value) > maxPatternValueLen {
			p.Value = p.Value[:maxPatternValueLen]
		}
		if seen[p.key()] {
			return
		}
		seen[p.key()] = true
		p.Source = SourceAgentAuto
		p.Confidence = defaultConfidence
		p.UseCount = 1
		p.CreatedAt = now
		p.LastUsedAt = now
		out = append(out, p)
	}

	clickTargets := make(map[string]int)
	for _, step := range steps {
		if !step.OK {
			continue
		}
		switch step.Tool {
		case "navigate":
			url, _ := step.Args["url"].(string)
			add(Pattern{
				Type:        PatternNavigationPath,
				Description: fmt.Sprintf("navigated to %s", truncate(url, 120)),
				Value:       url,
			})
		case "click":
			target, _ := step.Args["element_id"].(string)
			if target == "" {
				target, _ = step.Args["selector"].(string)
			}
			if target != "" {
				clickTargets[target]++
			}
		}
	}

	for target, count := range clickTargets {
		if count < 2 {
			continue
		}
		add(Pattern{
			Type:        PatternSelector,
			Description: fmt.Sprintf("clicked %d times during the task", count),
			Value:       target,
		})
	}

	if summary := strings.TrimSpace(task); summary != "" {
		add(Pattern{
			Type:        PatternTaskIntent,
			Description: truncate(summary, 200),
			Value:       truncate(summary, 500),
		})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
