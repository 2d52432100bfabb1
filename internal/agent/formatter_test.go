package agent

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/chenpu17/ai-browser/internal/semantic"
	"github.com/chenpu17/ai-browser/internal/tools"
)

func TestMaskSecrets(t *testing.T) {
	in := `{"username": "alice", "password": "hunter2", "api_key": "sk-123", "apiKey": "sk-456", "note": "ok"}`
	out := MaskSecrets(in)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "sk-123")
	assert.NotContains(t, out, "sk-456")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, `"note": "ok"`)
	assert.Contains(t, out, "********")
}

func TestFormatterTruncatesToBudget(t *testing.T) {
	f := NewFormatter(200)
	call := tools.Call{Name: tools.ToolExecuteJavascript, SessionID: "s1"}
	long := strings.Repeat("x", 1000)
	out := f.Format(call, &tools.Result{OK: true, Content: long})
	assert.LessOrEqual(t, len(out), 200+len("\n…(truncated)"))
	assert.Contains(t, out, "truncated")
}

func TestFormatterTinyBudgetIsClamped(t *testing.T) {
	f := NewFormatter(10)
	call := tools.Call{Name: tools.ToolExecuteJavascript, SessionID: "s1"}
	out := f.Format(call, &tools.Result{OK: true, Content: strings.Repeat("x", 1000)})
	assert.LessOrEqual(t, len(out), minResultBudget)
	assert.Contains(t, out, "truncated")
}

func TestFormatterTruncatesOnRuneBoundary(t *testing.T) {
	f := NewFormatter(minResultBudget)
	call := tools.Call{Name: tools.ToolExecuteJavascript, SessionID: "s1"}
	out := f.Format(call, &tools.Result{OK: true, Content: strings.Repeat("页", 500)})
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "truncated")
	assert.LessOrEqual(t, len(out), minResultBudget)
}

func TestFormatterErrorIncludesHint(t *testing.T) {
	f := NewFormatter(0)
	call := tools.Call{Name: tools.ToolClick, SessionID: "s1"}
	out := f.Format(call, &tools.Result{
		OK:        false,
		ErrorCode: "ELEMENT_NOT_FOUND",
		Message:   "no element matches el-9",
		Hint:      "call get_page_info first",
	})
	assert.Contains(t, out, "ERROR ELEMENT_NOT_FOUND")
	assert.Contains(t, out, "Hint: call get_page_info first")
}

func pageInfoResult(url string, elements []semantic.Element) *tools.Result {
	return &tools.Result{OK: true, Data: map[string]any{"url": url, "elements": elements}}
}

func TestFormatterPageInfoDiffsWhenFewChanges(t *testing.T) {
	f := NewFormatter(0)
	call := tools.Call{Name: tools.ToolGetPageInfo, SessionID: "s1"}

	base := []semantic.Element{
		{ID: "el-1", Type: "button", Label: "Search"},
		{ID: "el-2", Type: "input", Label: "Query"},
		{ID: "el-3", Type: "link", Label: "Help"},
		{ID: "el-4", Type: "link", Label: "About"},
	}
	first := f.Format(call, pageInfoResult("https://example.com", base))
	assert.Contains(t, first, "Elements (4)")

	// One element changed out of four: diff mode.
	changed := append([]semantic.Element(nil), base...)
	changed[2] = semantic.Element{ID: "el-3", Type: "link", Label: "Support"}
	second := f.Format(call, pageInfoResult("https://example.com", changed))
	assert.Contains(t, second, "showing changes")
	assert.Contains(t, second, "el-3")
	assert.NotContains(t, second, "el-1]")
}

func TestFormatterPageInfoFullListingWhenMostChanged(t *testing.T) {
	f := NewFormatter(0)
	call := tools.Call{Name: tools.ToolGetPageInfo, SessionID: "s2"}

	first := []semantic.Element{
		{ID: "el-1", Type: "button", Label: "A"},
		{ID: "el-2", Type: "button", Label: "B"},
	}
	f.Format(call, pageInfoResult("https://example.com", first))

	// Everything replaced: more than half changed, so full listing again.
	second := []semantic.Element{
		{ID: "el-8", Type: "button", Label: "X"},
		{ID: "el-9", Type: "button", Label: "Y"},
	}
	out := f.Format(call, pageInfoResult("https://example.com", second))
	assert.Contains(t, out, "Elements (2)")
	assert.NotContains(t, out, "showing changes")
}

func TestFormatterPageInfoNewURLGetsFullListing(t *testing.T) {
	f := NewFormatter(0)
	call := tools.Call{Name: tools.ToolGetPageInfo, SessionID: "s3"}

	elements := []semantic.Element{{ID: "el-1", Type: "button", Label: "Go"}}
	f.Format(call, pageInfoResult("https://example.com/a", elements))
	out := f.Format(call, pageInfoResult("https://example.com/b", elements))
	assert.Contains(t, out, "Elements (1)")
	assert.NotContains(t, out, "showing changes")
}

func TestFormatterScreenshotNeverInlinesImage(t *testing.T) {
	f := NewFormatter(0)
	call := tools.Call{Name: tools.ToolScreenshot, SessionID: "s1"}
	out := f.Format(call, &tools.Result{OK: true, Data: map[string]any{
		"format": "png",
		"base64": strings.Repeat("A", 5000),
	}})
	assert.Less(t, len(out), 200)
	assert.NotContains(t, out, "AAAA")
}
