package tools

import (
	"errors"
	"time"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

// Call is one tool invocation requested by the LLM, with arguments already
// decoded. SessionID is always set by the loop, never trusted from the model.
type Call struct {
	ID        string
	Name      string
	SessionID string
	Args      map[string]any
}

// Result is the structured outcome of a tool call. Content is the compact
// text handed to the formatter; Data carries the typed payload for callers
// that need it (templates, verifier).
type Result struct {
	CallID    string         `json:"callId,omitempty"`
	Tool      string         `json:"tool"`
	OK        bool           `json:"ok"`
	Content   string         `json:"content,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	ErrorCode aiberrors.Code `json:"errorCode,omitempty"`
	Message   string         `json:"message,omitempty"`
	Hint      string         `json:"hint,omitempty"`
}

// Fail builds an error result from a coded error.
func Fail(call Call, err error) *Result {
	res := &Result{
		CallID:    call.ID,
		Tool:      call.Name,
		OK:        false,
		ErrorCode: aiberrors.CodeOf(err),
		Message:   err.Error(),
	}
	var coded *aiberrors.Error
	if errors.As(err, &coded) {
		res.Hint = coded.Hint
		res.Message = coded.Message
		if res.Message == "" {
			res.Message = coded.Error()
		}
	}
	res.Content = res.Message
	return res
}

// UsageRecord is one completed tool call, kept per run for loop detection
// and memory capture.
type UsageRecord struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	OK        bool           `json:"ok"`
	ErrorCode aiberrors.Code `json:"errorCode,omitempty"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
}
