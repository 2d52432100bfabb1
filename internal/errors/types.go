package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Code identifies a failure class. The set is closed: tool results, run
// records, and HTTP responses all carry one of these values.
type Code string

const (
	// Input
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	CodeInvalidRequest   Code = "INVALID_REQUEST"

	// Resource
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeElementNotFound  Code = "ELEMENT_NOT_FOUND"
	CodeTabNotFound      Code = "TAB_NOT_FOUND"
	CodeRunNotFound      Code = "RUN_NOT_FOUND"
	CodeArtifactNotFound Code = "ARTIFACT_NOT_FOUND"
	CodeTemplateNotFound Code = "TEMPLATE_NOT_FOUND"

	// Browser
	CodeNavigationTimeout Code = "NAVIGATION_TIMEOUT"
	CodePageCrashed       Code = "PAGE_CRASHED"
	CodePageLoadTimeout   Code = "PAGE_LOAD_TIMEOUT"

	// Policy
	CodeTrustLevelNotAllowed Code = "TRUST_LEVEL_NOT_ALLOWED"
	CodeLoginFieldNotFound   Code = "TPL_LOGIN_FIELD_NOT_FOUND"

	// Execution
	CodeExecutionError Code = "EXECUTION_ERROR"
	CodeRunTimeout     Code = "RUN_TIMEOUT"
	CodeRunCanceled    Code = "RUN_CANCELED"
	CodeMaxTabs        Code = "MAX_TABS"
	CodeTooManyRuns    Code = "TOO_MANY_RUNS"
)

// Error is a coded error with an optional hint the LLM can act on.
type Error struct {
	Code    Code
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithHint returns a copy of the error carrying a hint for the LLM.
func (e *Error) WithHint(hint string) *Error {
	clone := *e
	clone.Hint = hint
	return &clone
}

// CodeOf extracts the code from err, classifying plain errors by pattern
// when no explicit code is attached.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return classify(err)
}

// classify maps raw browser/driver errors onto the taxonomy by message
// pattern. Unknown errors become EXECUTION_ERROR.
func classify(err error) Code {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "net::err_") && strings.Contains(msg, "timed_out"),
		strings.Contains(msg, "navigation timeout"):
		return CodeNavigationTimeout
	case strings.Contains(msg, "page crashed"), strings.Contains(msg, "target crashed"):
		return CodePageCrashed
	case strings.Contains(msg, "context deadline exceeded") && strings.Contains(msg, "load"):
		return CodePageLoadTimeout
	case strings.Contains(msg, "session not found"):
		return CodeSessionNotFound
	case strings.Contains(msg, "tab not found"):
		return CodeTabNotFound
	case strings.Contains(msg, "element not found"), strings.Contains(msg, "no element matches"):
		return CodeElementNotFound
	default:
		return CodeExecutionError
	}
}

// IsTransient reports whether an error is worth retrying. Timeouts and
// temporary network failures are transient; coded resource and input errors
// are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch CodeOf(err) {
	case CodeNavigationTimeout, CodePageLoadTimeout, CodeRunTimeout:
		return true
	case CodeInvalidParameter, CodeInvalidRequest, CodeSessionNotFound,
		CodeElementNotFound, CodeTabNotFound, CodeRunNotFound,
		CodeArtifactNotFound, CodeTemplateNotFound, CodeTrustLevelNotAllowed:
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"temporarily unavailable",
		"broken pipe",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// FormatForLLM converts a technical error into an actionable message for the
// model, preserving the code prefix so the recovery policy can match on it.
func FormatForLLM(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Hint != "" {
			return fmt.Sprintf("%s (hint: %s)", coded.Error(), coded.Hint)
		}
		return coded.Error()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "The operation timed out. The page may be slow; wait for stability and retry."
	case strings.Contains(msg, "connection refused"):
		return "Could not reach the browser or upstream service. Retry shortly."
	case strings.Contains(msg, "not found"):
		return "The referenced resource was not found. Refresh the element list before retrying."
	default:
		return err.Error()
	}
}
