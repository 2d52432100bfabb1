package tools

import (
	"github.com/chenpu17/ai-browser/internal/llm"
)

// Tool names. The set is closed; the bus rejects anything else.
const (
	ToolNavigate          = "navigate"
	ToolGetPageInfo       = "get_page_info"
	ToolGetPageContent    = "get_page_content"
	ToolClick             = "click"
	ToolTypeText          = "type_text"
	ToolPressKey          = "press_key"
	ToolScroll            = "scroll"
	ToolGoBack            = "go_back"
	ToolFindElement       = "find_element"
	ToolWait              = "wait"
	ToolWaitForStable     = "wait_for_stable"
	ToolExecuteJavascript = "execute_javascript"
	ToolSelectOption      = "select_option"
	ToolHover             = "hover"
	ToolSetValue          = "set_value"
	ToolCreateTab         = "create_tab"
	ToolCloseTab          = "close_tab"
	ToolSwitchTab         = "switch_tab"
	ToolListTabs          = "list_tabs"
	ToolScreenshot        = "screenshot"
	ToolHandleDialog      = "handle_dialog"
	ToolGetDialogInfo     = "get_dialog_info"
	ToolGetNetworkLogs    = "get_network_logs"
	ToolGetConsoleLogs    = "get_console_logs"
	ToolUploadFile        = "upload_file"
	ToolGetDownloads      = "get_downloads"

	// Pseudo-tools handled by the agent loop, never dispatched to the bus.
	ToolDone     = "done"
	ToolAskHuman = "ask_human"
)

func obj(props map[string]llm.Property, required ...string) llm.ParameterSchema {
	return llm.ParameterSchema{Type: "object", Properties: props, Required: required}
}

func str(desc string) llm.Property { return llm.Property{Type: "string", Description: desc} }
func num(desc string) llm.Property { return llm.Property{Type: "number", Description: desc} }
func boolp(desc string) llm.Property { return llm.Property{Type: "boolean", Description: desc} }

// Definitions returns the JSON-schema descriptions of every browser tool, in
// a stable order. Durations are milliseconds; element_id values come from
// get_page_info / find_element results.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolNavigate,
			Description: "Navigate the active tab to a URL and wait for the page to load.",
			Parameters:  obj(map[string]llm.Property{"url": str("Absolute URL to open.")}, "url"),
		},
		{
			Name:        ToolGetPageInfo,
			Description: "List interactive elements on the current page with their element_id, type, label, and state. Call this before clicking or typing.",
			Parameters: obj(map[string]llm.Property{
				"maxElements": num("Maximum number of elements to return (default 60)."),
				"visibleOnly": boolp("Only elements inside the viewport (default true)."),
			}),
		},
		{
			Name:        ToolGetPageContent,
			Description: "Extract the readable content of the page: title, text sections, links.",
			Parameters: obj(map[string]llm.Property{
				"maxLength": num("Maximum characters of content to return."),
			}),
		},
		{
			Name:        ToolClick,
			Description: "Click an element by its element_id from get_page_info.",
			Parameters:  obj(map[string]llm.Property{"element_id": str("Semantic element identifier.")}, "element_id"),
		},
		{
			Name:        ToolTypeText,
			Description: "Type text into an input element. Set submit to press Enter afterwards.",
			Parameters: obj(map[string]llm.Property{
				"element_id": str("Semantic element identifier of the input."),
				"text":       str("Text to type."),
				"submit":     boolp("Press Enter after typing (default false)."),
			}, "element_id", "text"),
		},
		{
			Name:        ToolPressKey,
			Description: "Press a keyboard key, optionally with modifiers.",
			Parameters: obj(map[string]llm.Property{
				"key": str("Key name, e.g. Enter, Tab, Escape, ArrowDown."),
				"modifiers": {Type: "array", Description: "Modifier keys: ctrl, alt, shift, meta.",
					Items: &llm.Property{Type: "string"}},
			}, "key"),
		},
		{
			Name:        ToolScroll,
			Description: "Scroll the page in a direction.",
			Parameters: obj(map[string]llm.Property{
				"direction": {Type: "string", Description: "Scroll direction.",
					Enum: []any{"up", "down", "left", "right"}},
				"amount": num("Scroll distance in pixels (default 600)."),
			}, "direction"),
		},
		{
			Name:        ToolGoBack,
			Description: "Go back one entry in the tab history.",
			Parameters:  obj(map[string]llm.Property{}),
		},
		{
			Name:        ToolFindElement,
			Description: "Find elements matching a natural-language query, e.g. 'search box' or 'login button'.",
			Parameters: obj(map[string]llm.Property{
				"query": str("What to look for."),
				"limit": num("Maximum matches to return (default 5)."),
			}, "query"),
		},
		{
			Name:        ToolWait,
			Description: "Wait for a condition: a fixed time, a selector to appear, or page stability.",
			Parameters: obj(map[string]llm.Property{
				"condition": {Type: "string", Description: "What to wait for.",
					Enum: []any{"timeout", "selector", "stable"}},
				"ms":       num("Duration or timeout in milliseconds (default 1000)."),
				"selector": str("CSS selector, required when condition is 'selector'."),
			}, "condition"),
		},
		{
			Name:        ToolWaitForStable,
			Description: "Wait until the page has settled: no recent DOM mutations, no pending requests, load complete.",
			Parameters: obj(map[string]llm.Property{
				"ms": num("Maximum wait in milliseconds (default 5000)."),
			}),
		},
		{
			Name:        ToolExecuteJavascript,
			Description: "Evaluate a JavaScript expression in the page and return its JSON result.",
			Parameters:  obj(map[string]llm.Property{"script": str("Expression to evaluate.")}, "script"),
		},
		{
			Name:        ToolSelectOption,
			Description: "Pick an option of a <select> element by value or visible label.",
			Parameters: obj(map[string]llm.Property{
				"element_id": str("Semantic element identifier of the select."),
				"value":      str("Option value or label."),
			}, "element_id", "value"),
		},
		{
			Name:        ToolHover,
			Description: "Move the mouse over an element to reveal menus or tooltips.",
			Parameters:  obj(map[string]llm.Property{"element_id": str("Semantic element identifier.")}, "element_id"),
		},
		{
			Name:        ToolSetValue,
			Description: "Set an input's value directly without simulating keystrokes.",
			Parameters: obj(map[string]llm.Property{
				"element_id": str("Semantic element identifier of the input."),
				"value":      str("Value to set."),
			}, "element_id", "value"),
		},
		{
			Name:        ToolCreateTab,
			Description: "Open a new tab in this session, optionally at a URL. The new tab becomes active.",
			Parameters:  obj(map[string]llm.Property{"url": str("URL to open in the new tab.")}),
		},
		{
			Name:        ToolCloseTab,
			Description: "Close a tab. Without tabId the active tab is closed.",
			Parameters:  obj(map[string]llm.Property{"tabId": str("Tab identifier to close.")}),
		},
		{
			Name:        ToolSwitchTab,
			Description: "Make another tab the active tab.",
			Parameters:  obj(map[string]llm.Property{"tabId": str("Tab identifier to activate.")}, "tabId"),
		},
		{
			Name:        ToolListTabs,
			Description: "List the session's tabs with their ids and URLs.",
			Parameters:  obj(map[string]llm.Property{}),
		},
		{
			Name:        ToolScreenshot,
			Description: "Capture a screenshot of the page or of one element, returned as base64 PNG.",
			Parameters: obj(map[string]llm.Property{
				"fullPage":   boolp("Capture the whole page instead of the viewport."),
				"element_id": str("Capture only this element."),
				"format":     {Type: "string", Description: "Image format.", Enum: []any{"png"}},
				"quality":    num("Compression quality 0-100 for full-page capture."),
			}),
		},
		{
			Name:        ToolHandleDialog,
			Description: "Answer a native dialog (alert, confirm, prompt) and set how future dialogs are answered.",
			Parameters: obj(map[string]llm.Property{
				"action": {Type: "string", Description: "accept or dismiss.", Enum: []any{"accept", "dismiss"}},
				"text":   str("Prompt answer text when accepting a prompt dialog."),
			}, "action"),
		},
		{
			Name:        ToolGetDialogInfo,
			Description: "List recent native dialogs and whether they were handled.",
			Parameters:  obj(map[string]llm.Property{}),
		},
		{
			Name:        ToolGetNetworkLogs,
			Description: "Return recent network requests of the active tab.",
			Parameters: obj(map[string]llm.Property{
				"count": num("Number of most recent requests (default 20)."),
			}),
		},
		{
			Name:        ToolGetConsoleLogs,
			Description: "Return recent console messages of the active tab.",
			Parameters: obj(map[string]llm.Property{
				"count": num("Number of most recent messages (default 20)."),
			}),
		},
		{
			Name:        ToolUploadFile,
			Description: "Attach a local file to a file input element.",
			Parameters: obj(map[string]llm.Property{
				"element_id": str("Semantic element identifier of the file input."),
				"filePath":   str("Absolute path of the file on the server."),
			}, "element_id", "filePath"),
		},
		{
			Name:        ToolGetDownloads,
			Description: "List downloads begun by the active tab.",
			Parameters:  obj(map[string]llm.Property{}),
		},
	}
}

// PseudoToolDefinitions returns the agent-level done and ask_human tools.
func PseudoToolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ToolDone,
			Description: "Finish the task and report the final result. Call exactly once, when the goal is achieved or cannot be achieved.",
			Parameters: obj(map[string]llm.Property{
				"result":  str("Final answer or extracted data, as text or JSON."),
				"success": boolp("Whether the goal was achieved."),
			}, "result"),
		},
		{
			Name:        ToolAskHuman,
			Description: "Ask the human operator for information you cannot obtain yourself, such as credentials or a verification code. The run suspends until they answer.",
			Parameters: obj(map[string]llm.Property{
				"question": str("What to ask."),
				"fields": {Type: "array", Description: "Structured fields to collect.",
					Items: &llm.Property{Type: "object"}},
			}, "question"),
		},
	}
}
