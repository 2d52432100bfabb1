package tools

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

func TestDecodeArgumentsValidJSON(t *testing.T) {
	args, err := DecodeArguments(`{"url": "https://example.com", "ms": 500, "submit": true}`)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", StringArg(args, "url"))
	assert.Equal(t, 500, IntArg(args, "ms", 0))
	assert.True(t, BoolArg(args, "submit", false))
}

func TestDecodeArgumentsEmpty(t *testing.T) {
	for _, raw := range []string{"", "  ", "null"} {
		args, err := DecodeArguments(raw)
		require.NoError(t, err, "input %q", raw)
		assert.Empty(t, args)
	}
}

func TestDecodeArgumentsRepairsMalformedJSON(t *testing.T) {
	// Trailing comma and single quotes, both common model mistakes.
	args, err := DecodeArguments(`{'url': 'https://example.com',}`)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", StringArg(args, "url"))
}

func TestDecodeArgumentsUnrepairableFails(t *testing.T) {
	_, err := DecodeArguments(`navigate to the page please`)
	require.Error(t, err)

	var coded *aiberrors.Error
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, aiberrors.CodeInvalidParameter, coded.Code)
	assert.NotEmpty(t, coded.Hint)
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"count":     float64(7),
		"modifiers": []any{"ctrl", "shift", 42},
	}
	assert.Equal(t, 7, IntArg(args, "count", 0))
	assert.Equal(t, 3, IntArg(args, "missing", 3))
	assert.Equal(t, 7.0, FloatArg(args, "count", 0))
	assert.Equal(t, []string{"ctrl", "shift"}, StringsArg(args, "modifiers"))
	assert.Nil(t, StringsArg(args, "missing"))
	assert.Equal(t, "", StringArg(args, "count"), "non-string reads as empty")
}

func TestDefinitionsCoverClosedToolSet(t *testing.T) {
	defs := Definitions()
	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		assert.NotEmpty(t, def.Description, "tool %s needs a description", def.Name)
		assert.Equal(t, "object", def.Parameters.Type)
		names[def.Name] = true
	}

	for _, required := range []string{
		ToolNavigate, ToolGetPageInfo, ToolGetPageContent, ToolClick, ToolTypeText,
		ToolPressKey, ToolScroll, ToolGoBack, ToolFindElement, ToolWait,
		ToolWaitForStable, ToolExecuteJavascript, ToolSelectOption, ToolHover,
		ToolSetValue, ToolCreateTab, ToolCloseTab, ToolSwitchTab, ToolListTabs,
		ToolScreenshot, ToolHandleDialog, ToolGetDialogInfo, ToolGetNetworkLogs,
		ToolGetConsoleLogs, ToolUploadFile, ToolGetDownloads,
	} {
		assert.True(t, names[required], "missing definition for %s", required)
	}
	assert.False(t, names[ToolDone], "done is a pseudo-tool")
	assert.False(t, names[ToolAskHuman], "ask_human is a pseudo-tool")

	pseudo := PseudoToolDefinitions()
	require.Len(t, pseudo, 2)
	assert.Equal(t, ToolDone, pseudo[0].Name)
	assert.Equal(t, ToolAskHuman, pseudo[1].Name)
}

func TestFailWrapsCodedErrors(t *testing.T) {
	call := Call{ID: "call-1", Name: ToolClick}
	err := aiberrors.New(aiberrors.CodeElementNotFound, "no element matches #x").
		WithHint("refresh the element list")

	result := Fail(call, err)
	assert.False(t, result.OK)
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, ToolClick, result.Tool)
	assert.Equal(t, aiberrors.CodeElementNotFound, result.ErrorCode)
	assert.Equal(t, "refresh the element list", result.Hint)
}
