package agent

import (
	"strings"
	"time"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

// DecisionKind is what the loop should do about a failed tool call.
type DecisionKind string

const (
	DecideRetry      DecisionKind = "retry"
	DecideInjectHint DecisionKind = "inject_hint"
	DecideAbort      DecisionKind = "abort"
)

// Decision is the outcome of the recovery policy.
type Decision struct {
	Kind   DecisionKind
	Delay  time.Duration
	Hint   string
	Reason string
}

const (
	maxRetryDelay = 10 * time.Second
	baseDelay     = time.Second
)

// Recover is the pure recovery policy: given the failing tool, its error,
// and how many consecutive errors the run has seen, decide whether to retry
// with backoff, keep going with a hint, or abort.
func Recover(toolName string, err error, consecutive int, maxConsecutive int) Decision {
	if consecutive >= maxConsecutive {
		return Decision{Kind: DecideAbort, Reason: "consecutive error limit reached"}
	}

	code := aiberrors.CodeOf(err)
	switch code {
	case aiberrors.CodeSessionNotFound:
		return Decision{Kind: DecideAbort, Reason: "browser session was lost"}
	case aiberrors.CodeElementNotFound:
		return Decision{
			Kind: DecideInjectHint,
			Hint: "The element was not found. The page may have changed; call get_page_info to refresh the element list before retrying.",
		}
	case aiberrors.CodeInvalidParameter:
		if consecutive > 1 {
			return Decision{Kind: DecideAbort, Reason: "invalid parameters persisted after a hint"}
		}
		return Decision{
			Kind: DecideInjectHint,
			Hint: "The tool arguments were malformed. Check the tool's parameter schema and retry with a single valid JSON object.",
		}
	}

	if aiberrors.IsTransient(err) {
		return Decision{Kind: DecideRetry, Delay: retryDelay(consecutive)}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return Decision{Kind: DecideRetry, Delay: retryDelay(consecutive)}
	}

	return Decision{
		Kind: DecideInjectHint,
		Hint: "The last tool call failed: " + aiberrors.FormatForLLM(err) + " Consider a different approach.",
	}
}

// llmRetryDelay spaces out repeated completion attempts. Hint decisions carry
// no delay of their own, so they wait the base backoff instead of spinning
// against a failing endpoint.
func llmRetryDelay(d Decision) time.Duration {
	if d.Delay > 0 {
		return d.Delay
	}
	return baseDelay
}

// retryDelay doubles per consecutive error, capped at 10 s.
func retryDelay(consecutive int) time.Duration {
	delay := baseDelay
	for i := 1; i < consecutive; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
