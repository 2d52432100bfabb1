package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/chenpu17/ai-browser/internal/browser"
	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/logging"
	"github.com/chenpu17/ai-browser/internal/semantic"
)

// Bus dispatches decoded tool calls to the browser manager and the semantic
// collaborator. It is stateless apart from its collaborators; per-run state
// (usage, caches) lives with the agent.
type Bus struct {
	manager   *browser.Manager
	collector semantic.Collector
	logger    logging.Logger
	observer  func(tool string, ok bool, elapsed time.Duration)
}

// NewBus wires a bus to its collaborators.
func NewBus(manager *browser.Manager, collector semantic.Collector, logger logging.Logger) *Bus {
	return &Bus{manager: manager, collector: collector, logger: logging.OrNop(logger)}
}

// SetObserver installs a callback invoked after every tool execution. Call
// before the bus starts serving.
func (b *Bus) SetObserver(observer func(tool string, ok bool, elapsed time.Duration)) {
	b.observer = observer
}

func semanticSelector(elementID string) string {
	return fmt.Sprintf(`[data-semantic-id=%q]`, elementID)
}

// Execute runs one tool call and returns a structured result. Errors are
// folded into the result; the returned error is reserved for programming
// mistakes (unknown session wiring), which also surface as results here so
// the loop never has to branch.
func (b *Bus) Execute(ctx context.Context, call Call) *Result {
	started := time.Now()
	result := b.dispatch(ctx, call)
	result.CallID = call.ID
	result.Tool = call.Name
	b.manager.UpdateActivity(call.SessionID)
	elapsed := time.Since(started)
	if b.observer != nil {
		b.observer(call.Name, result.OK, elapsed)
	}
	b.logger.Debug("tool %s ok=%v in %s", call.Name, result.OK, elapsed.Round(time.Millisecond))
	return result
}

func (b *Bus) dispatch(ctx context.Context, call Call) *Result {
	tab := b.manager.GetActiveTab(call.SessionID)
	switch call.Name {
	case ToolListTabs, ToolCloseTab, ToolSwitchTab, ToolCreateTab:
		// Tab management tools work without an active tab resolved here.
	default:
		if tab == nil {
			return Fail(call, aiberrors.Newf(aiberrors.CodeSessionNotFound, "session not found: %s", call.SessionID))
		}
	}

	switch call.Name {
	case ToolNavigate:
		return b.navigate(ctx, call, tab)
	case ToolGetPageInfo:
		return b.pageInfo(ctx, call, tab)
	case ToolGetPageContent:
		return b.pageContent(ctx, call, tab)
	case ToolClick:
		return b.click(ctx, call, tab)
	case ToolTypeText:
		return b.typeText(ctx, call, tab)
	case ToolPressKey:
		return b.pressKey(ctx, call, tab)
	case ToolScroll:
		return b.scroll(ctx, call, tab)
	case ToolGoBack:
		if err := browser.GoBack(ctx, tab); err != nil {
			return Fail(call, err)
		}
		return ok(call, "went back", map[string]any{"url": tab.URL()})
	case ToolFindElement:
		return b.findElement(ctx, call, tab)
	case ToolWait:
		return b.wait(ctx, call, tab)
	case ToolWaitForStable:
		timeout := time.Duration(IntArg(call.Args, "ms", 5000)) * time.Millisecond
		if err := browser.WaitForStable(ctx, tab, b.manager.Config().StabilityQuiet, timeout); err != nil {
			return Fail(call, err)
		}
		return ok(call, "page is stable", nil)
	case ToolExecuteJavascript:
		return b.executeJavascript(ctx, call, tab)
	case ToolSelectOption:
		elementID := StringArg(call.Args, "element_id")
		if err := browser.SelectOption(ctx, tab, semanticSelector(elementID), StringArg(call.Args, "value")); err != nil {
			return Fail(call, err)
		}
		return ok(call, "option selected", nil)
	case ToolHover:
		if err := browser.Hover(ctx, tab, semanticSelector(StringArg(call.Args, "element_id"))); err != nil {
			return Fail(call, err)
		}
		return ok(call, "hovering", nil)
	case ToolSetValue:
		return b.setValue(ctx, call, tab)
	case ToolCreateTab:
		return b.createTab(ctx, call)
	case ToolCloseTab:
		return b.closeTab(ctx, call)
	case ToolSwitchTab:
		return b.switchTab(call)
	case ToolListTabs:
		return b.listTabs(call)
	case ToolScreenshot:
		return b.screenshot(ctx, call, tab)
	case ToolHandleDialog:
		action := StringArg(call.Args, "action")
		if action != "accept" && action != "dismiss" {
			return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "action must be accept or dismiss"))
		}
		if err := browser.HandleDialog(ctx, tab, action == "accept", StringArg(call.Args, "text")); err != nil {
			return Fail(call, err)
		}
		return ok(call, "dialog policy set", nil)
	case ToolGetDialogInfo:
		return ok(call, "", map[string]any{"dialogs": tab.Tracker().Dialogs()})
	case ToolGetNetworkLogs:
		logs := tab.Tracker().NetworkLog()
		count := IntArg(call.Args, "count", 20)
		if len(logs) > count {
			logs = logs[len(logs)-count:]
		}
		return ok(call, "", map[string]any{"requests": logs})
	case ToolGetConsoleLogs:
		logs := tab.Tracker().ConsoleLog()
		count := IntArg(call.Args, "count", 20)
		if len(logs) > count {
			logs = logs[len(logs)-count:]
		}
		return ok(call, "", map[string]any{"messages": logs})
	case ToolUploadFile:
		elementID := StringArg(call.Args, "element_id")
		path := StringArg(call.Args, "filePath")
		if path == "" {
			return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "filePath is required"))
		}
		if err := tab.Run(ctx, 20*time.Second,
			chromedp.SetUploadFiles(semanticSelector(elementID), []string{path}, chromedp.ByQuery)); err != nil {
			return Fail(call, err)
		}
		return ok(call, "file attached", nil)
	case ToolGetDownloads:
		return ok(call, "", map[string]any{"downloads": tab.Tracker().Downloads()})
	default:
		return Fail(call, aiberrors.Newf(aiberrors.CodeInvalidRequest, "unknown tool: %s", call.Name))
	}
}

func ok(call Call, content string, data map[string]any) *Result {
	res := &Result{CallID: call.ID, Tool: call.Name, OK: true, Content: content, Data: data}
	if content == "" && data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			res.Content = string(encoded)
		}
	}
	return res
}

func (b *Bus) navigate(ctx context.Context, call Call, tab *browser.Tab) *Result {
	url := strings.TrimSpace(StringArg(call.Args, "url"))
	if url == "" {
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "url is required"))
	}
	if !strings.Contains(url, "://") {
		url = "https://" + url
	}
	if err := b.manager.NavigateTab(ctx, tab, url); err != nil {
		return Fail(call, err)
	}
	return ok(call, fmt.Sprintf("navigated to %s", tab.URL()), map[string]any{"url": tab.URL()})
}

func (b *Bus) pageInfo(ctx context.Context, call Call, tab *browser.Tab) *Result {
	elements, err := b.collector.CollectElements(ctx, tab)
	if err != nil {
		return Fail(call, err)
	}
	if BoolArg(call.Args, "visibleOnly", true) {
		elements = visibleElements(elements)
	}
	maxElements := IntArg(call.Args, "maxElements", 60)
	if len(elements) > maxElements {
		elements = elements[:maxElements]
	}
	data := map[string]any{
		"url":      tab.URL(),
		"elements": elements,
	}
	if analysis, err := b.collector.Analyze(ctx, tab); err == nil && analysis != nil {
		data["pageType"] = analysis.PageType
		data["summary"] = analysis.Summary
	}
	return ok(call, "", data)
}

func visibleElements(elements []semantic.Element) []semantic.Element {
	out := elements[:0:0]
	for _, el := range elements {
		if el.Bounds.Width > 0 && el.Bounds.Height > 0 && el.Bounds.Y >= 0 {
			out = append(out, el)
		}
	}
	return out
}

func (b *Bus) pageContent(ctx context.Context, call Call, tab *browser.Tab) *Result {
	content, err := b.collector.ExtractContent(ctx, tab)
	if err != nil {
		return Fail(call, err)
	}
	maxLength := IntArg(call.Args, "maxLength", 0)
	if maxLength > 0 {
		total := 0
		for i, section := range content.Sections {
			if total+len(section.Text) > maxLength {
				remaining := maxLength - total
				if remaining > 0 {
					section.Text = section.Text[:remaining]
					content.Sections[i] = section
					content.Sections = content.Sections[:i+1]
				} else {
					content.Sections = content.Sections[:i]
				}
				break
			}
			total += len(section.Text)
		}
	}
	return ok(call, "", map[string]any{
		"title":    content.Title,
		"sections": content.Sections,
		"links":    content.Links,
	})
}

func (b *Bus) click(ctx context.Context, call Call, tab *browser.Tab) *Result {
	elementID := StringArg(call.Args, "element_id")
	if elementID == "" {
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "element_id is required").
			WithHint("call get_page_info first to obtain element ids"))
	}
	if err := browser.Click(ctx, tab, semanticSelector(elementID)); err != nil {
		return Fail(call, err)
	}
	b.adoptPopups(call.SessionID, tab)
	b.manager.SaveAllCookies(ctx, call.SessionID)
	return ok(call, fmt.Sprintf("clicked %s", elementID), map[string]any{"url": tab.URL()})
}

// adoptPopups registers any window the click opened as a session tab.
func (b *Bus) adoptPopups(sessionID string, tab *browser.Tab) {
	for _, popup := range tab.Tracker().Popups() {
		if popup.Adopted {
			continue
		}
		b.manager.RegisterPopupAsTab(sessionID, popup.TargetID)
	}
}

func (b *Bus) typeText(ctx context.Context, call Call, tab *browser.Tab) *Result {
	elementID := StringArg(call.Args, "element_id")
	text := StringArg(call.Args, "text")
	if elementID == "" || text == "" {
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "element_id and text are required"))
	}
	if err := browser.TypeText(ctx, tab, semanticSelector(elementID), text, true); err != nil {
		return Fail(call, err)
	}
	if BoolArg(call.Args, "submit", false) {
		if err := browser.PressKey(ctx, tab, "Enter", nil); err != nil {
			return Fail(call, err)
		}
	}
	return ok(call, fmt.Sprintf("typed into %s", elementID), nil)
}

func (b *Bus) pressKey(ctx context.Context, call Call, tab *browser.Tab) *Result {
	key := StringArg(call.Args, "key")
	if key == "" {
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "key is required"))
	}
	if err := browser.PressKey(ctx, tab, key, StringsArg(call.Args, "modifiers")); err != nil {
		return Fail(call, err)
	}
	return ok(call, fmt.Sprintf("pressed %s", key), nil)
}

func (b *Bus) scroll(ctx context.Context, call Call, tab *browser.Tab) *Result {
	amount := FloatArg(call.Args, "amount", 600)
	var dx, dy float64
	switch StringArg(call.Args, "direction") {
	case "up":
		dy = -amount
	case "down":
		dy = amount
	case "left":
		dx = -amount
	case "right":
		dx = amount
	default:
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "direction must be up, down, left, or right"))
	}
	if err := browser.Scroll(ctx, tab, dx, dy); err != nil {
		return Fail(call, err)
	}
	return ok(call, "scrolled", nil)
}

func (b *Bus) findElement(ctx context.Context, call Call, tab *browser.Tab) *Result {
	query := StringArg(call.Args, "query")
	if query == "" {
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "query is required"))
	}
	elements, err := b.collector.CollectElements(ctx, tab)
	if err != nil {
		return Fail(call, err)
	}
	limit := IntArg(call.Args, "limit", 5)
	matches := b.collector.FindByQuery(elements, query, limit)
	if len(matches) == 0 {
		return Fail(call, aiberrors.Newf(aiberrors.CodeElementNotFound, "no element matches %q", query).
			WithHint("try a broader query or call get_page_info"))
	}
	return ok(call, "", map[string]any{"matches": matches})
}

func (b *Bus) wait(ctx context.Context, call Call, tab *browser.Tab) *Result {
	ms := IntArg(call.Args, "ms", 1000)
	switch StringArg(call.Args, "condition") {
	case "timeout":
		select {
		case <-ctx.Done():
			return Fail(call, ctx.Err())
		case <-time.After(time.Duration(ms) * time.Millisecond):
		}
		return ok(call, "waited", nil)
	case "selector":
		selector := StringArg(call.Args, "selector")
		if selector == "" {
			return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "selector is required for condition=selector"))
		}
		if err := tab.Run(ctx, time.Duration(ms)*time.Millisecond,
			chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
			return Fail(call, aiberrors.Newf(aiberrors.CodeElementNotFound, "selector %q did not appear within %dms", selector, ms))
		}
		return ok(call, "selector appeared", nil)
	case "stable":
		if err := browser.WaitForStable(ctx, tab, b.manager.Config().StabilityQuiet, time.Duration(ms)*time.Millisecond); err != nil {
			return Fail(call, err)
		}
		return ok(call, "page is stable", nil)
	default:
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "condition must be timeout, selector, or stable"))
	}
}

func (b *Bus) executeJavascript(ctx context.Context, call Call, tab *browser.Tab) *Result {
	script := StringArg(call.Args, "script")
	if script == "" {
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "script is required"))
	}
	var out any
	if err := tab.Evaluate(ctx, script, &out); err != nil {
		return Fail(call, err)
	}
	return ok(call, "", map[string]any{"result": out})
}

func (b *Bus) setValue(ctx context.Context, call Call, tab *browser.Tab) *Result {
	elementID := StringArg(call.Args, "element_id")
	value := StringArg(call.Args, "value")
	if elementID == "" {
		return Fail(call, aiberrors.New(aiberrors.CodeInvalidParameter, "element_id is required"))
	}
	if err := tab.Run(ctx, 10*time.Second,
		chromedp.SetValue(semanticSelector(elementID), value, chromedp.ByQuery)); err != nil {
		return Fail(call, err)
	}
	return ok(call, "value set", nil)
}

func (b *Bus) createTab(ctx context.Context, call Call) *Result {
	tab, err := b.manager.CreateTab(ctx, call.SessionID, StringArg(call.Args, "url"))
	if err != nil {
		return Fail(call, err)
	}
	return ok(call, fmt.Sprintf("created tab %s", tab.ID), map[string]any{"tabId": tab.ID, "url": tab.URL()})
}

func (b *Bus) closeTab(ctx context.Context, call Call) *Result {
	tabID := StringArg(call.Args, "tabId")
	if tabID == "" {
		if active := b.manager.GetActiveTab(call.SessionID); active != nil {
			tabID = active.ID
		}
	}
	if tabID == "" || !b.manager.CloseTab(ctx, call.SessionID, tabID) {
		return Fail(call, aiberrors.Newf(aiberrors.CodeTabNotFound, "tab not found: %s", tabID))
	}
	return ok(call, fmt.Sprintf("closed tab %s", tabID), nil)
}

func (b *Bus) switchTab(call Call) *Result {
	tabID := StringArg(call.Args, "tabId")
	if !b.manager.SwitchTab(call.SessionID, tabID) {
		return Fail(call, aiberrors.Newf(aiberrors.CodeTabNotFound, "tab not found: %s", tabID))
	}
	return ok(call, fmt.Sprintf("switched to tab %s", tabID), nil)
}

func (b *Bus) listTabs(call Call) *Result {
	sess := b.manager.Get(call.SessionID)
	if sess == nil {
		return Fail(call, aiberrors.Newf(aiberrors.CodeSessionNotFound, "session not found: %s", call.SessionID))
	}
	var tabs []map[string]any
	for _, tab := range b.manager.ListTabs(call.SessionID) {
		tabs = append(tabs, map[string]any{
			"tabId":  tab.ID,
			"url":    tab.URL(),
			"active": tab.ID == sess.ActiveTabID(),
		})
	}
	return ok(call, "", map[string]any{"tabs": tabs})
}

func (b *Bus) screenshot(ctx context.Context, call Call, tab *browser.Tab) *Result {
	elementID := StringArg(call.Args, "element_id")
	var (
		data []byte
		err  error
	)
	if elementID != "" {
		err = tab.Run(ctx, 30*time.Second,
			chromedp.Screenshot(semanticSelector(elementID), &data, chromedp.ByQuery))
	} else {
		data, err = browser.Screenshot(ctx, tab, BoolArg(call.Args, "fullPage", false))
	}
	if err != nil {
		return Fail(call, err)
	}
	return ok(call, fmt.Sprintf("captured %d bytes", len(data)), map[string]any{
		"format": "png",
		"base64": base64.StdEncoding.EncodeToString(data),
	})
}
