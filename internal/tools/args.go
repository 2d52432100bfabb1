package tools

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

// DecodeArguments turns the raw JSON argument string of a tool call into a
// map. Malformed JSON is run through jsonrepair first; if that also fails the
// caller gets an INVALID_PARAMETER error, never a panic, so the loop can feed
// the failure back to the model.
func DecodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, aiberrors.Newf(aiberrors.CodeInvalidParameter, "tool arguments are not valid JSON: %.200s", raw).
			WithHint("emit arguments as a single JSON object")
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, aiberrors.Newf(aiberrors.CodeInvalidParameter, "tool arguments are not valid JSON: %.200s", raw).
			WithHint("emit arguments as a single JSON object")
	}
	return args, nil
}

// StringArg reads a string argument, tolerating absence.
func StringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// BoolArg reads a bool argument with a default.
func BoolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// IntArg reads a numeric argument as int with a default. JSON numbers decode
// as float64.
func IntArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// FloatArg reads a numeric argument with a default.
func FloatArg(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// StringsArg reads a string-array argument.
func StringsArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
