package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// LoadState tracks where the page is in its load cycle.
type LoadState string

const (
	LoadStateLoading          LoadState = "loading"
	LoadStateDOMContentLoaded LoadState = "domcontentloaded"
	LoadStateLoaded           LoadState = "loaded"
)

// Ring buffer caps per record kind.
const (
	maxNetworkRecords  = 200
	maxConsoleRecords  = 100
	maxDialogRecords   = 20
	maxPopupRecords    = 10
	maxDownloadRecords = 50
)

// NetworkRecord is one observed network request.
type NetworkRecord struct {
	RequestID string    `json:"requestId"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	Status    int64     `json:"status,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
}

// ConsoleRecord is one console message.
type ConsoleRecord struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// DialogRecord is one native dialog (alert/confirm/prompt/beforeunload).
type DialogRecord struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
	Handled bool      `json:"handled"`
}

// PopupRecord is one window opened by the page.
type PopupRecord struct {
	TargetID string    `json:"targetId"`
	URL      string    `json:"url"`
	At       time.Time `json:"at"`
	Adopted  bool      `json:"adopted"`
}

// DownloadRecord is one download begun by the page.
type DownloadRecord struct {
	GUID     string    `json:"guid"`
	URL      string    `json:"url"`
	Filename string    `json:"filename"`
	At       time.Time `json:"at"`
}

type ring[T any] struct {
	items []T
	max   int
}

func (r *ring[T]) push(item T) {
	r.items = append(r.items, item)
	if len(r.items) > r.max {
		r.items = r.items[len(r.items)-r.max:]
	}
}

func (r *ring[T]) snapshot() []T {
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

// EventTracker accumulates per-tab browser events in bounded ring buffers and
// exposes the stability predicate the agent's wait tools build on.
type EventTracker struct {
	mu sync.Mutex

	network   ring[NetworkRecord]
	console   ring[ConsoleRecord]
	dialogs   ring[DialogRecord]
	popups    ring[PopupRecord]
	downloads ring[DownloadRecord]

	pending         map[string]time.Time
	loadState       LoadState
	lastDOMMutation time.Time
}

// NewEventTracker creates a tracker ready to attach to a tab.
func NewEventTracker() *EventTracker {
	return &EventTracker{
		network:   ring[NetworkRecord]{max: maxNetworkRecords},
		console:   ring[ConsoleRecord]{max: maxConsoleRecords},
		dialogs:   ring[DialogRecord]{max: maxDialogRecords},
		popups:    ring[PopupRecord]{max: maxPopupRecords},
		downloads: ring[DownloadRecord]{max: maxDownloadRecords},
		pending:   make(map[string]time.Time),
		loadState: LoadStateLoaded,
	}
}

// Attach subscribes the tracker to the tab context's CDP events. The listener
// goroutine ends with the tab context, which breaks the tracker-page cycle on
// closeTab without an explicit detach.
func (t *EventTracker) Attach(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			t.onRequest(e)
		case *network.EventLoadingFinished:
			t.onRequestDone(string(e.RequestID), 0, false)
		case *network.EventLoadingFailed:
			t.onRequestDone(string(e.RequestID), 0, true)
		case *network.EventResponseReceived:
			t.onResponse(e)
		case *runtime.EventConsoleAPICalled:
			t.onConsole(e)
		case *page.EventJavascriptDialogOpening:
			t.onDialog(e)
		case *browser.EventDownloadWillBegin:
			t.onDownload(e)
		case *page.EventFrameNavigated:
			t.onNavigated(e)
		case *page.EventDomContentEventFired:
			t.setLoadState(LoadStateDOMContentLoaded)
		case *page.EventLoadEventFired:
			t.setLoadState(LoadStateLoaded)
		case *target.EventTargetCreated:
			t.onTargetCreated(e)
		}
	})
}

func (t *EventTracker) onRequest(e *network.EventRequestWillBeSent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.pending[string(e.RequestID)] = now
	t.network.push(NetworkRecord{
		RequestID: string(e.RequestID),
		URL:       e.Request.URL,
		Method:    e.Request.Method,
		StartedAt: now,
	})
	t.lastDOMMutation = now
}

func (t *EventTracker) onResponse(e *network.EventResponseReceived) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.network.items) - 1; i >= 0; i-- {
		if t.network.items[i].RequestID == string(e.RequestID) {
			t.network.items[i].Status = e.Response.Status
			break
		}
	}
}

func (t *EventTracker) onRequestDone(requestID string, status int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, requestID)
	now := time.Now()
	for i := len(t.network.items) - 1; i >= 0; i-- {
		if t.network.items[i].RequestID == requestID {
			t.network.items[i].EndedAt = now
			t.network.items[i].Failed = failed
			if status > 0 {
				t.network.items[i].Status = status
			}
			break
		}
	}
	t.lastDOMMutation = now
}

func (t *EventTracker) onConsole(e *runtime.EventConsoleAPICalled) {
	var text string
	for _, arg := range e.Args {
		if len(arg.Value) > 0 {
			if text != "" {
				text += " "
			}
			text += string(arg.Value)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.console.push(ConsoleRecord{Level: string(e.Type), Text: text, At: time.Now()})
}

func (t *EventTracker) onDialog(e *page.EventJavascriptDialogOpening) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialogs.push(DialogRecord{
		Kind:    string(e.Type),
		Message: e.Message,
		At:      time.Now(),
	})
}

func (t *EventTracker) onDownload(e *browser.EventDownloadWillBegin) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.downloads.push(DownloadRecord{
		GUID:     e.GUID,
		URL:      e.URL,
		Filename: e.SuggestedFilename,
		At:       time.Now(),
	})
}

func (t *EventTracker) onNavigated(e *page.EventFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadState = LoadStateLoading
	t.lastDOMMutation = time.Now()
}

func (t *EventTracker) onTargetCreated(e *target.EventTargetCreated) {
	if e.TargetInfo == nil || e.TargetInfo.Type != "page" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.popups.push(PopupRecord{
		TargetID: string(e.TargetInfo.TargetID),
		URL:      e.TargetInfo.URL,
		At:       time.Now(),
	})
}

func (t *EventTracker) setLoadState(state LoadState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadState = state
	t.lastDOMMutation = time.Now()
}

// RecordMutation notes DOM activity observed via the injected observer.
func (t *EventTracker) RecordMutation(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.lastDOMMutation) {
		t.lastDOMMutation = at
	}
}

// MarkDialogHandled flags the most recent dialog record as handled.
func (t *EventTracker) MarkDialogHandled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.dialogs.items); n > 0 {
		t.dialogs.items[n-1].Handled = true
	}
}

// MarkPopupAdopted flags the popup with the given target id as adopted.
func (t *EventTracker) MarkPopupAdopted(targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.popups.items {
		if t.popups.items[i].TargetID == targetID {
			t.popups.items[i].Adopted = true
		}
	}
}

// Stable reports whether the page has settled: no DOM mutation within the
// quiet window, no short-lived pending requests, and load state not loading.
func (t *EventTracker) Stable(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loadState == LoadStateLoading {
		return false
	}
	if !t.lastDOMMutation.IsZero() && time.Since(t.lastDOMMutation) < quiet {
		return false
	}
	// Long-poll and websocket-like requests stay pending forever; only
	// recently started requests count against stability.
	for _, startedAt := range t.pending {
		if time.Since(startedAt) < 10*time.Second {
			return false
		}
	}
	return true
}

// LoadState returns the current load state.
func (t *EventTracker) LoadState() LoadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadState
}

// NetworkLog returns the buffered network records, newest last.
func (t *EventTracker) NetworkLog() []NetworkRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.network.snapshot()
}

// ConsoleLog returns the buffered console records.
func (t *EventTracker) ConsoleLog() []ConsoleRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.console.snapshot()
}

// Dialogs returns the buffered dialog records.
func (t *EventTracker) Dialogs() []DialogRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dialogs.snapshot()
}

// Popups returns the buffered popup records.
func (t *EventTracker) Popups() []PopupRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.popups.snapshot()
}

// Downloads returns the buffered download records.
func (t *EventTracker) Downloads() []DownloadRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.downloads.snapshot()
}
