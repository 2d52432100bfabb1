package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/chenpu17/ai-browser/internal/llm"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens counts conversation tokens with the cl100k_base encoding,
// falling back to a bytes/4 heuristic when the encoding is unavailable
// (offline first run).
func estimateTokens(messages []llm.Message) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	total := 0
	for _, msg := range messages {
		text := msg.Content
		for _, call := range msg.ToolCalls {
			text += call.Name + call.Arguments
		}
		if encoding != nil {
			total += len(encoding.Encode(text, nil, nil)) + 4
		} else {
			total += len(text)/4 + 4
		}
	}
	return total
}
