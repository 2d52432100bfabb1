package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

// attachDialogHandler answers native dialogs according to the tab's policy.
// Unanswered dialogs block every CDP command, so the answer is dispatched
// from its own goroutine as soon as the opening event arrives.
func attachDialogHandler(tab *Tab) {
	chromedp.ListenTarget(tab.ctx, func(ev any) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); !ok {
			return
		}
		accept, promptText := tab.DialogPolicy()
		go func() {
			params := page.HandleJavaScriptDialog(accept)
			if accept && promptText != "" {
				params = params.WithPromptText(promptText)
			}
			if err := chromedp.Run(tab.ctx, params); err == nil {
				tab.tracker.MarkDialogHandled()
			}
		}()
	})
}

// Click clicks the first element matching the CSS selector.
func Click(ctx context.Context, tab *Tab, selector string) error {
	if err := tab.Run(ctx, 15*time.Second, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return elementErr(err, selector)
	}
	return nil
}

// ClickXY clicks at viewport coordinates, optionally with a non-left button
// or multiple clicks.
func ClickXY(ctx context.Context, tab *Tab, x, y float64, button input.MouseButton, clicks int) error {
	if clicks <= 0 {
		clicks = 1
	}
	if button == "" {
		button = input.Left
	}
	return tab.Run(ctx, 15*time.Second,
		chromedp.MouseClickXY(x, y, chromedp.ButtonType(button), chromedp.ClickCount(clicks)))
}

// Hover moves the mouse over the element matching the selector.
func Hover(ctx context.Context, tab *Tab, selector string) error {
	var box struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return null;
  const r = el.getBoundingClientRect();
  return {x: r.left + r.width / 2, y: r.top + r.height / 2};
})()`, selector)
	if err := tab.Evaluate(ctx, expr, &box); err != nil {
		return elementErr(err, selector)
	}
	if box.X == 0 && box.Y == 0 {
		return aiberrors.Newf(aiberrors.CodeElementNotFound, "no element matches %q", selector)
	}
	return tab.Run(ctx, 10*time.Second, chromedp.MouseEvent(input.MouseMoved, box.X, box.Y))
}

// TypeText types into the element matching the selector. With clearFirst the
// existing value is removed before typing.
func TypeText(ctx context.Context, tab *Tab, selector, text string, clearFirst bool) error {
	actions := []chromedp.Action{chromedp.Focus(selector, chromedp.ByQuery)}
	if clearFirst {
		actions = append(actions,
			chromedp.SetValue(selector, "", chromedp.ByQuery),
			chromedp.Focus(selector, chromedp.ByQuery),
		)
	}
	actions = append(actions, chromedp.SendKeys(selector, text, chromedp.ByQuery))
	if err := tab.Run(ctx, 20*time.Second, actions...); err != nil {
		return elementErr(err, selector)
	}
	return nil
}

// PressKey dispatches a single key, with optional modifiers (ctrl, alt,
// shift, meta).
func PressKey(ctx context.Context, tab *Tab, key string, modifiers []string) error {
	normalized := normalizeKey(key)
	if len(modifiers) == 0 {
		return tab.Run(ctx, 10*time.Second, chromedp.KeyEvent(normalized))
	}
	mods := parseModifiers(modifiers)
	return tab.Run(ctx, 10*time.Second, chromedp.KeyEvent(normalized, chromedp.KeyModifiers(mods...)))
}

// Scroll scrolls the page by the given pixel deltas at the viewport center.
func Scroll(ctx context.Context, tab *Tab, dx, dy float64) error {
	var viewport struct {
		W float64 `json:"w"`
		H float64 `json:"h"`
	}
	if err := tab.Evaluate(ctx, `({w: window.innerWidth, h: window.innerHeight})`, &viewport); err != nil {
		return err
	}
	opt := func(p *input.DispatchMouseEventParams) *input.DispatchMouseEventParams {
		return p.WithDeltaX(dx).WithDeltaY(dy)
	}
	return tab.Run(ctx, 10*time.Second,
		chromedp.MouseEvent(input.MouseWheel, viewport.W/2, viewport.H/2, opt))
}

// ScrollIntoView scrolls the element matching the selector into the viewport.
func ScrollIntoView(ctx context.Context, tab *Tab, selector string) error {
	if err := tab.Run(ctx, 10*time.Second, chromedp.ScrollIntoView(selector, chromedp.ByQuery)); err != nil {
		return elementErr(err, selector)
	}
	return nil
}

// SelectOption picks an option of a <select> element by value or visible
// label.
func SelectOption(ctx context.Context, tab *Tab, selector, value string) error {
	var picked bool
	expr := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el || el.tagName !== 'SELECT') return false;
  const want = %q;
  for (const opt of el.options) {
    if (opt.value === want || opt.label.trim() === want || opt.text.trim() === want) {
      el.value = opt.value;
      el.dispatchEvent(new Event('input', {bubbles: true}));
      el.dispatchEvent(new Event('change', {bubbles: true}));
      return true;
    }
  }
  return false;
})()`, selector, value)
	if err := tab.Evaluate(ctx, expr, &picked); err != nil {
		return elementErr(err, selector)
	}
	if !picked {
		return aiberrors.Newf(aiberrors.CodeElementNotFound, "no option %q in select %q", value, selector)
	}
	return nil
}

// Screenshot captures the viewport (or the full page) as PNG bytes.
func Screenshot(ctx context.Context, tab *Tab, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 90)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := tab.Run(ctx, 30*time.Second, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// GoBack navigates one entry back in the tab history.
func GoBack(ctx context.Context, tab *Tab) error {
	return tab.Run(ctx, 15*time.Second, chromedp.NavigateBack())
}

// GoForward navigates one entry forward in the tab history.
func GoForward(ctx context.Context, tab *Tab) error {
	return tab.Run(ctx, 15*time.Second, chromedp.NavigateForward())
}

// Reload reloads the current page.
func Reload(ctx context.Context, tab *Tab) error {
	return tab.Run(ctx, 30*time.Second, chromedp.Reload())
}

// WaitForStable polls the stability predicate until the page settles or the
// timeout elapses. The injected mutation observer's clock is folded into the
// tracker on every poll.
func WaitForStable(ctx context.Context, tab *Tab, quiet, timeout time.Duration) error {
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var lastMutationMillis float64
		if err := tab.Evaluate(ctx, `window.__aibLastMutation || 0`, &lastMutationMillis); err == nil && lastMutationMillis > 0 {
			tab.tracker.RecordMutation(time.UnixMilli(int64(lastMutationMillis)))
		}
		if tab.tracker.Stable(quiet) {
			return nil
		}
		if time.Now().After(deadline) {
			return aiberrors.Newf(aiberrors.CodePageLoadTimeout, "page did not stabilize within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return aiberrors.Wrap(aiberrors.CodePageLoadTimeout, ctx.Err(), "wait for stability canceled")
		case <-ticker.C:
		}
	}
}

// HandleDialog sets the dialog policy and answers a dialog that is already
// open, if any.
func HandleDialog(ctx context.Context, tab *Tab, accept bool, promptText string) error {
	tab.SetDialogPolicy(accept, promptText)
	dialogs := tab.tracker.Dialogs()
	if n := len(dialogs); n > 0 && !dialogs[n-1].Handled {
		params := page.HandleJavaScriptDialog(accept)
		if accept && promptText != "" {
			params = params.WithPromptText(promptText)
		}
		if err := tab.Run(ctx, 5*time.Second, params); err != nil {
			return err
		}
		tab.tracker.MarkDialogHandled()
	}
	return nil
}

func elementErr(err error, selector string) error {
	if aiberrors.CodeOf(err) == aiberrors.CodeExecutionError &&
		strings.Contains(err.Error(), "context deadline exceeded") {
		return aiberrors.Newf(aiberrors.CodeElementNotFound, "no element matches %q", selector).
			WithHint("refresh the element list; the page may have changed")
	}
	return err
}

// normalizeKey maps common key aliases to the runes/names chromedp expects.
func normalizeKey(key string) string {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "backspace":
		return kb.Backspace
	case "delete", "del":
		return kb.Delete
	case "space":
		return " "
	case "arrowup", "up":
		return kb.ArrowUp
	case "arrowdown", "down":
		return kb.ArrowDown
	case "arrowleft", "left":
		return kb.ArrowLeft
	case "arrowright", "right":
		return kb.ArrowRight
	case "pageup":
		return kb.PageUp
	case "pagedown":
		return kb.PageDown
	case "home":
		return kb.Home
	case "end":
		return kb.End
	default:
		return key
	}
}

func parseModifiers(names []string) []input.Modifier {
	var mods []input.Modifier
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "ctrl", "control":
			mods = append(mods, input.ModifierCtrl)
		case "alt":
			mods = append(mods, input.ModifierAlt)
		case "shift":
			mods = append(mods, input.ModifierShift)
		case "meta", "cmd", "command":
			mods = append(mods, input.ModifierMeta)
		}
	}
	return mods
}
