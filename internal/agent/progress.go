package agent

import (
	"regexp"
	"strings"

	"github.com/chenpu17/ai-browser/internal/tools"
)

// subgoalMarker matches completion markers the system prompt asks the model
// to embed in its replies, e.g. "[SUBGOAL_DONE] opened search results".
var subgoalMarker = regexp.MustCompile(`\[SUBGOAL_DONE\]\s*(.+)`)

// toolWeights scores how much a successful call of each kind usually moves a
// task forward. The estimate is a coarse signal for progress events, not a
// promise.
var toolWeights = map[string]float64{
	tools.ToolNavigate:       0.15,
	tools.ToolClick:          0.10,
	tools.ToolTypeText:       0.10,
	tools.ToolSelectOption:   0.08,
	tools.ToolGetPageContent: 0.08,
	tools.ToolGetPageInfo:    0.04,
	tools.ToolFindElement:    0.03,
}

// ProgressEstimator tracks a coarse completion estimate plus a subgoal
// checklist advanced by markers in assistant content.
type ProgressEstimator struct {
	estimate float64
	subgoals []string
}

// NewProgressEstimator starts at zero progress.
func NewProgressEstimator() *ProgressEstimator {
	return &ProgressEstimator{}
}

// ObserveTool records one tool call. Failed calls do not advance progress.
func (p *ProgressEstimator) ObserveTool(toolName string, ok bool) {
	if !ok {
		return
	}
	weight, found := toolWeights[toolName]
	if !found {
		weight = 0.02
	}
	p.estimate += (1 - p.estimate) * weight
	if p.estimate > 0.95 {
		p.estimate = 0.95
	}
}

// ObserveContent scans assistant content for subgoal markers and returns the
// newly completed subgoal descriptions.
func (p *ProgressEstimator) ObserveContent(content string) []string {
	var completed []string
	for _, match := range subgoalMarker.FindAllStringSubmatch(content, -1) {
		text := strings.TrimSpace(match[1])
		if text == "" {
			continue
		}
		p.subgoals = append(p.subgoals, text)
		completed = append(completed, text)
	}
	return completed
}

// Estimate returns the current completion estimate in [0,1).
func (p *ProgressEstimator) Estimate() float64 { return p.estimate }

// Subgoals returns the completed subgoal descriptions in order.
func (p *ProgressEstimator) Subgoals() []string {
	out := make([]string, len(p.subgoals))
	copy(out, p.subgoals)
	return out
}
