package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

func TestRecoverAbortOnConsecutiveLimit(t *testing.T) {
	d := Recover("click", aiberrors.New(aiberrors.CodeExecutionError, "boom"), 3, 3)
	assert.Equal(t, DecideAbort, d.Kind)
}

func TestRecoverAbortOnLostSession(t *testing.T) {
	d := Recover("click", aiberrors.New(aiberrors.CodeSessionNotFound, "gone"), 1, 3)
	assert.Equal(t, DecideAbort, d.Kind)
}

func TestRecoverHintOnElementNotFound(t *testing.T) {
	d := Recover("click", aiberrors.New(aiberrors.CodeElementNotFound, "no match"), 1, 3)
	assert.Equal(t, DecideInjectHint, d.Kind)
	assert.Contains(t, d.Hint, "get_page_info")
}

func TestRecoverInvalidParameterEscalates(t *testing.T) {
	err := aiberrors.New(aiberrors.CodeInvalidParameter, "bad args")

	first := Recover("type_text", err, 1, 3)
	assert.Equal(t, DecideInjectHint, first.Kind)

	second := Recover("type_text", err, 2, 3)
	assert.Equal(t, DecideAbort, second.Kind)
}

func TestRecoverRetriesTransientWithBackoff(t *testing.T) {
	err := aiberrors.New(aiberrors.CodeNavigationTimeout, "net::ERR_TIMED_OUT")

	first := Recover("navigate", err, 1, 5)
	assert.Equal(t, DecideRetry, first.Kind)
	assert.Equal(t, time.Second, first.Delay)

	second := Recover("navigate", err, 2, 5)
	assert.Equal(t, 2*time.Second, second.Delay)

	// Backoff caps at ten seconds no matter how long the streak.
	fifth := Recover("navigate", err, 4, 99)
	assert.Equal(t, 8*time.Second, fifth.Delay)
	capped := Recover("navigate", err, 10, 99)
	assert.Equal(t, 10*time.Second, capped.Delay)
}

func TestRecoverPlainTimeoutRetries(t *testing.T) {
	d := Recover("wait", errors.New("operation timeout while waiting"), 1, 5)
	assert.Equal(t, DecideRetry, d.Kind)
}

func TestLLMRetryDelayNeverZero(t *testing.T) {
	// Decisions without an explicit backoff still wait before the next
	// completion attempt.
	assert.Equal(t, time.Second, llmRetryDelay(Decision{Kind: DecideInjectHint}))
	assert.Equal(t, 4*time.Second, llmRetryDelay(Decision{Kind: DecideRetry, Delay: 4 * time.Second}))
}

func TestRecoverUnknownErrorHints(t *testing.T) {
	d := Recover("execute_javascript", aiberrors.New(aiberrors.CodePageCrashed, "target crashed"), 1, 5)
	assert.Equal(t, DecideInjectHint, d.Kind)
	assert.NotEmpty(t, d.Hint)
}
