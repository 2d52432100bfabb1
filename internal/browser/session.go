package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// CreateOptions captures the launch parameters a session was created with.
type CreateOptions struct {
	Headless   bool
	InitialURL string
	UserAgent  string
}

// Tab is one browsing surface inside a session. It wraps a dedicated
// chromedp tab context and the event tracker attached to it.
type Tab struct {
	ID      string
	ctx     context.Context
	cancel  context.CancelFunc
	url     string
	tracker *EventTracker

	dialogMu     sync.Mutex
	dialogAccept bool
	dialogPrompt string
}

// SetDialogPolicy decides how the next native dialogs on this tab are
// answered. promptText is sent for prompt dialogs when accepting.
func (t *Tab) SetDialogPolicy(accept bool, promptText string) {
	t.dialogMu.Lock()
	t.dialogAccept = accept
	t.dialogPrompt = promptText
	t.dialogMu.Unlock()
}

// DialogPolicy returns the current dialog answer policy.
func (t *Tab) DialogPolicy() (accept bool, promptText string) {
	t.dialogMu.Lock()
	defer t.dialogMu.Unlock()
	return t.dialogAccept, t.dialogPrompt
}

// URL returns the last-seen URL of the tab.
func (t *Tab) URL() string { return t.url }

// SetURL records the last-seen URL after a navigation or adoption.
func (t *Tab) SetURL(url string) { t.url = url }

// Tracker returns the event tracker attached to this tab.
func (t *Tab) Tracker() *EventTracker { return t.tracker }

// Context returns the chromedp tab context.
func (t *Tab) Context() context.Context { return t.ctx }

// Run executes chromedp actions against this tab under a timeout derived from
// both the caller context and the tab lifetime.
func (t *Tab) Run(callCtx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if t == nil || t.ctx == nil {
		return fmt.Errorf("tab is not attached to a browser")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	if callCtx != nil {
		if done := callCtx.Done(); done != nil {
			go func() {
				select {
				case <-done:
					cancel()
				case <-runCtx.Done():
				}
			}()
		}
	}
	return chromedp.Run(runCtx, actions...)
}

// Evaluate runs a JavaScript expression in the tab and decodes the result
// into out. Satisfies the semantic collaborator's Page contract.
func (t *Tab) Evaluate(ctx context.Context, expression string, out any) error {
	return t.Run(ctx, 30*time.Second, chromedp.Evaluate(expression, out))
}

func (t *Tab) close() {
	if t != nil && t.cancel != nil {
		t.cancel()
	}
}

// Session is an isolated browsing context: an ordered set of tabs sharing
// cookie state, with an active-tab pointer and an expiry.
type Session struct {
	ID           string
	Headless     bool
	Options      CreateOptions
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time

	tabs     map[string]*Tab
	tabOrder []string
	activeID string
}

// ActiveTabID returns the identifier of the active tab, or "" when empty.
func (s *Session) ActiveTabID() string { return s.activeID }

// TabCount returns the number of open tabs.
func (s *Session) TabCount() int { return len(s.tabs) }

// TabIDs returns the tab identifiers in creation order.
func (s *Session) TabIDs() []string {
	out := make([]string, len(s.tabOrder))
	copy(out, s.tabOrder)
	return out
}

func (s *Session) addTab(tab *Tab) {
	s.tabs[tab.ID] = tab
	s.tabOrder = append(s.tabOrder, tab.ID)
	s.activeID = tab.ID
}

// removeTab drops the tab from the session and repoints the active tab at
// the most recently created remaining tab.
func (s *Session) removeTab(tabID string) bool {
	if _, ok := s.tabs[tabID]; !ok {
		return false
	}
	delete(s.tabs, tabID)
	for i, existing := range s.tabOrder {
		if existing == tabID {
			s.tabOrder = append(s.tabOrder[:i], s.tabOrder[i+1:]...)
			break
		}
	}
	if s.activeID == tabID {
		if n := len(s.tabOrder); n > 0 {
			s.activeID = s.tabOrder[n-1]
		} else {
			s.activeID = ""
		}
	}
	return true
}
