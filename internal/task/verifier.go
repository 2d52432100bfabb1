package task

import (
	"fmt"
	"sort"
)

// Verification is the outcome of checking a result against an output schema.
type Verification struct {
	Pass           bool     `json:"pass"`
	Score          float64  `json:"score"`
	MissingFields  []string `json:"missingFields,omitempty"`
	TypeMismatches []string `json:"typeMismatches,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// Verify checks value against a JSON-schema subset. Object schemas record
// missing required fields and per-property type mismatches; the score is the
// fraction of checked properties that passed. A nil schema always passes.
func Verify(value any, schema map[string]any) Verification {
	if len(schema) == 0 {
		return Verification{Pass: true, Score: 1}
	}

	schemaType, _ := schema["type"].(string)
	if schemaType != "object" {
		if matchesType(value, schemaType) {
			return Verification{Pass: true, Score: 1}
		}
		return Verification{
			Pass:   false,
			Score:  0,
			Reason: fmt.Sprintf("expected %s, got %T", schemaType, value),
		}
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return Verification{Pass: false, Score: 0, Reason: fmt.Sprintf("expected object, got %T", value)}
	}

	props, _ := schema["properties"].(map[string]any)
	required := requiredFields(schema)

	var missing, mismatched []string
	checked, passed := 0, 0

	for _, field := range required {
		checked++
		if _, present := obj[field]; !present {
			missing = append(missing, field)
		} else {
			passed++
		}
	}

	for name, rawProp := range props {
		fieldValue, present := obj[name]
		if !present {
			continue
		}
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		wantType, _ := prop["type"].(string)
		if wantType == "" {
			continue
		}
		checked++
		if matchesType(fieldValue, wantType) {
			passed++
		} else {
			mismatched = append(mismatched, name)
		}
	}

	sort.Strings(missing)
	sort.Strings(mismatched)

	score := 1.0
	if checked > 0 {
		score = float64(passed) / float64(checked)
	}
	v := Verification{
		Pass:           len(missing) == 0 && len(mismatched) == 0,
		Score:          score,
		MissingFields:  missing,
		TypeMismatches: mismatched,
	}
	if !v.Pass {
		v.Reason = fmt.Sprintf("%d missing fields, %d type mismatches", len(missing), len(mismatched))
	}
	return v
}

func requiredFields(schema map[string]any) []string {
	raw, _ := schema["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// matchesType follows JSON-schema semantics over decoded JSON values: all
// numbers arrive as float64, so integer means a whole float64.
func matchesType(value any, schemaType string) bool {
	switch schemaType {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		return isNumber(value)
	case "integer":
		switch n := value.(type) {
		case int, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int64:
		return true
	}
	return false
}
