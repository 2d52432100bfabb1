package memory

import (
	"time"
)

// PatternType classifies a learned fact.
type PatternType string

const (
	PatternSelector       PatternType = "selector"
	PatternNavigationPath PatternType = "navigation_path"
	PatternLoginRequired  PatternType = "login_required"
	PatternSPAHint        PatternType = "spa_hint"
	PatternPageStructure  PatternType = "page_structure"
	PatternTaskIntent     PatternType = "task_intent"
)

// PatternSource records who produced a pattern.
type PatternSource string

const (
	SourceAgentAuto      PatternSource = "agent_auto"
	SourceHumanRecording PatternSource = "human_recording"
	SourceManual         PatternSource = "manual"
)

const (
	maxPatternValueLen = 2000
	defaultConfidence  = 0.6
)

// Pattern is one learned fact about a site.
type Pattern struct {
	Type        PatternType   `json:"type"`
	Description string        `json:"description"`
	Value       string        `json:"value"`
	Source      PatternSource `json:"source"`
	Confidence  float64       `json:"confidence"`
	UseCount    int           `json:"useCount"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastUsedAt  time.Time     `json:"lastUsedAt,omitempty"`
}

func (p Pattern) key() string { return string(p.Type) + "|" + p.Value }

// KnowledgeCard is the per-domain memory record. Version increases on every
// save for the same domain.
type KnowledgeCard struct {
	Domain        string    `json:"domain"`
	Version       int       `json:"version"`
	Patterns      []Pattern `json:"patterns"`
	SiteType      string    `json:"siteType,omitempty"`
	RequiresLogin bool      `json:"requiresLogin,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MergePatterns folds incoming patterns into existing ones, keyed by
// (type, value). On conflict the higher confidence wins, then the higher use
// count, then the later lastUsedAt. Merging a set with itself yields the same
// set apart from use-count accumulation.
func MergePatterns(existing, incoming []Pattern) []Pattern {
	byKey := make(map[string]int, len(existing))
	out := make([]Pattern, len(existing))
	copy(out, existing)
	for i, p := range out {
		byKey[p.key()] = i
	}

	for _, in := range incoming {
		if len(in.Value) > maxPatternValueLen {
			in.Value = in.Value[:maxPatternValueLen]
		}
		if in.Confidence <= 0 {
			in.Confidence = defaultConfidence
		}
		idx, ok := byKey[in.key()]
		if !ok {
			if in.CreatedAt.IsZero() {
				in.CreatedAt = time.Now()
			}
			byKey[in.key()] = len(out)
			out = append(out, in)
			continue
		}
		cur := out[idx]
		cur.UseCount += maxInt(in.UseCount, 1)
		if in.Confidence > cur.Confidence {
			cur.Confidence = in.Confidence
		}
		if in.LastUsedAt.After(cur.LastUsedAt) {
			cur.LastUsedAt = in.LastUsedAt
		}
		if in.Description != "" && len(in.Description) > len(cur.Description) {
			cur.Description = in.Description
		}
		out[idx] = cur
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
