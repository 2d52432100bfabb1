package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/singleflight"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/id"
	"github.com/chenpu17/ai-browser/internal/logging"
)

const (
	maxTabsPerSession  = 20
	defaultSessionTTL  = 30 * time.Minute
	headfulMinRemain   = time.Hour
	sweepInterval      = time.Minute
	idleBrowserDelay   = 2 * time.Minute
	idleCheckInterval  = 2 * time.Minute
	headfulSyncPeriod  = 30 * time.Second
)

// mutationObserverScript stamps the wall-clock time of the last DOM mutation
// onto the window so the stability predicate can read it.
const mutationObserverScript = `(() => {
  window.__aibLastMutation = Date.now();
  const observer = new MutationObserver(() => { window.__aibLastMutation = Date.now(); });
  const attach = () => observer.observe(document.documentElement, {childList: true, subtree: true, attributes: true, characterData: true});
  if (document.documentElement) { attach(); } else { document.addEventListener('DOMContentLoaded', attach); }
})();`

// Config holds browser manager settings.
type Config struct {
	ChromePath      string
	UserDataDir     string
	CookieFile      string
	MaxTabs         int
	NavigateTimeout time.Duration
	StabilityQuiet  time.Duration
	SessionTTL      time.Duration
}

func (c Config) maxTabs() int {
	if c.MaxTabs > 0 {
		return c.MaxTabs
	}
	return maxTabsPerSession
}

func (c Config) sessionTTL() time.Duration {
	if c.SessionTTL > 0 {
		return c.SessionTTL
	}
	return defaultSessionTTL
}

func (c Config) navigateTimeout() time.Duration {
	if c.NavigateTimeout > 0 {
		return c.NavigateTimeout
	}
	return 30 * time.Second
}

// browserHandle is one running Chrome process of a given kind.
type browserHandle struct {
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	lastSessionAt time.Time
}

// Manager multiplexes browser sessions over at most two Chrome processes
// (one headless, one headful), both lazily launched. It owns the process-wide
// cookie store and the lifecycle sweepers.
type Manager struct {
	cfg     Config
	logger  logging.Logger
	cookies *CookieStore

	mu       sync.Mutex
	sessions map[string]*Session
	browsers map[bool]*browserHandle // keyed by headless flag

	launch   singleflight.Group
	sweeping sync.Mutex
	idling   sync.Mutex

	stopTimers context.CancelFunc
}

// NewManager creates a manager and starts its background sweepers.
func NewManager(cfg Config, logger logging.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		cookies:  NewCookieStore(cfg.CookieFile, logger),
		sessions: make(map[string]*Session),
		browsers: make(map[bool]*browserHandle),
	}
	timerCtx, cancel := context.WithCancel(context.Background())
	m.stopTimers = cancel
	go m.sweepLoop(timerCtx)
	go m.idleLoop(timerCtx)
	go m.headfulSyncLoop(timerCtx)
	return m
}

// Cookies returns the process-wide cookie store.
func (m *Manager) Cookies() *CookieStore { return m.cookies }

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }

// ensureBrowser returns the running browser of the requested kind, launching
// it when needed. Concurrent launches of the same kind are collapsed into one.
func (m *Manager) ensureBrowser(headless bool) (*browserHandle, error) {
	key := "headless"
	if !headless {
		key = "headful"
	}
	v, err, _ := m.launch.Do(key, func() (any, error) {
		m.mu.Lock()
		if h, ok := m.browsers[headless]; ok && h.browserCtx.Err() == nil {
			m.mu.Unlock()
			return h, nil
		}
		m.mu.Unlock()

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", headless),
			chromedp.Flag("disable-gpu", headless),
		)
		if path := strings.TrimSpace(m.cfg.ChromePath); path != "" {
			opts = append(opts, chromedp.ExecPath(path))
		}
		if dir := strings.TrimSpace(m.cfg.UserDataDir); dir != "" {
			userDataDir := filepath.Join(dir, key)
			if err := os.MkdirAll(userDataDir, 0o755); err == nil {
				opts = append(opts, chromedp.UserDataDir(userDataDir))
			}
		}

		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		// Start the process eagerly so a dead Chrome surfaces here, not on
		// the first tool call.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("launch %s browser: %w", key, err)
		}

		h := &browserHandle{
			allocCtx:      allocCtx,
			allocCancel:   allocCancel,
			browserCtx:    browserCtx,
			browserCancel: browserCancel,
			lastSessionAt: time.Now(),
		}
		m.mu.Lock()
		m.browsers[headless] = h
		m.mu.Unlock()
		m.logger.Info("launched %s browser", key)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*browserHandle), nil
}

// Create opens a new session with one initial tab.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	handle, err := m.ensureBrowser(opts.Headless)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:           id.NewSessionID(),
		Headless:     opts.Headless,
		Options:      opts,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.cfg.sessionTTL()),
		tabs:         make(map[string]*Tab),
	}
	if !opts.Headless {
		sess.ExpiresAt = now.Add(headfulMinRemain)
	}

	tab, err := m.newTab(ctx, handle, opts.InitialURL)
	if err != nil {
		return nil, err
	}
	sess.addTab(tab)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("created session %s (headless=%v, tab=%s)", sess.ID, opts.Headless, tab.ID)
	return sess, nil
}

// newTab opens a chromedp tab, enables CDP domains, attaches a tracker,
// injects stored cookies, and optionally navigates.
func (m *Manager) newTab(ctx context.Context, handle *browserHandle, initialURL string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(handle.browserCtx)
	tab := &Tab{
		ID:      id.NewTabID(),
		ctx:     tabCtx,
		cancel:  cancel,
		tracker: NewEventTracker(),
	}
	tab.tracker.Attach(tabCtx)
	attachDialogHandler(tab)

	if err := tab.Run(ctx, m.cfg.navigateTimeout(),
		network.Enable(),
		page.Enable(),
		chromedp.ActionFunc(func(runCtx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(mutationObserverScript).Do(runCtx)
			return err
		}),
	); err != nil {
		cancel()
		return nil, err
	}

	// Inject every stored cookie before any navigation so cross-domain SSO
	// redirects keep their state.
	m.injectCookies(ctx, tab)

	if initialURL != "" {
		if err := m.NavigateTab(ctx, tab, initialURL); err != nil {
			cancel()
			return nil, err
		}
	}
	return tab, nil
}

// NavigateTab drives a navigation with cookie inject before and harvest
// after. Harvest completes before the URL change is reported to the caller.
func (m *Manager) NavigateTab(ctx context.Context, tab *Tab, url string) error {
	m.injectCookies(ctx, tab)
	if err := tab.Run(ctx, m.cfg.navigateTimeout(), chromedp.Navigate(url)); err != nil {
		code := aiberrors.CodeOf(err)
		if code == aiberrors.CodeExecutionError && strings.Contains(err.Error(), "context deadline exceeded") {
			code = aiberrors.CodeNavigationTimeout
		}
		return aiberrors.Wrap(code, err, fmt.Sprintf("navigate %s", url))
	}
	var current string
	if err := tab.Run(ctx, 10*time.Second, chromedp.Location(&current)); err == nil && current != "" {
		tab.SetURL(current)
	} else {
		tab.SetURL(url)
	}
	m.harvestCookies(ctx, tab)
	return nil
}

// CreateTab adds a tab to an existing session.
func (m *Manager) CreateTab(ctx context.Context, sessionID, url string) (*Tab, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, aiberrors.Newf(aiberrors.CodeSessionNotFound, "session not found: %s", sessionID)
	}
	if len(sess.tabs) >= m.cfg.maxTabs() {
		m.mu.Unlock()
		return nil, aiberrors.Newf(aiberrors.CodeMaxTabs, "session %s already has %d tabs", sessionID, m.cfg.maxTabs())
	}
	headless := sess.Headless
	m.mu.Unlock()

	handle, err := m.ensureBrowser(headless)
	if err != nil {
		return nil, err
	}
	tab, err := m.newTab(ctx, handle, url)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok = m.sessions[sessionID]
	if !ok {
		tab.close()
		return nil, aiberrors.Newf(aiberrors.CodeSessionNotFound, "session not found: %s", sessionID)
	}
	sess.addTab(tab)
	m.touchLocked(sess)
	return tab, nil
}

// RegisterPopupAsTab adopts a popup target created by a click as a session
// tab. Returns nil when the session is gone or the tab cap is reached.
func (m *Manager) RegisterPopupAsTab(sessionID string, targetID string) *Tab {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok || len(sess.tabs) >= m.cfg.maxTabs() {
		m.mu.Unlock()
		return nil
	}
	headless := sess.Headless
	m.mu.Unlock()

	m.mu.Lock()
	handle, ok := m.browsers[headless]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	tabCtx, cancel := chromedp.NewContext(handle.browserCtx, chromedp.WithTargetID(target.ID(targetID)))
	tab := &Tab{
		ID:      id.NewTabID(),
		ctx:     tabCtx,
		cancel:  cancel,
		tracker: NewEventTracker(),
	}
	tab.tracker.Attach(tabCtx)
	attachDialogHandler(tab)
	var current string
	if err := tab.Run(context.Background(), 10*time.Second, network.Enable(), page.Enable(), chromedp.Location(&current)); err != nil {
		cancel()
		return nil
	}
	tab.SetURL(current)

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok = m.sessions[sessionID]
	if !ok || len(sess.tabs) >= m.cfg.maxTabs() {
		tab.close()
		return nil
	}
	sess.addTab(tab)
	m.touchLocked(sess)
	for _, prior := range sess.tabs {
		prior.tracker.MarkPopupAdopted(targetID)
	}
	m.logger.Info("adopted popup %s as tab %s in session %s", targetID, tab.ID, sessionID)
	return tab
}

// Get returns the session, or nil.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

// GetActiveTab returns the active tab of the session, or nil.
func (m *Manager) GetActiveTab(sessionID string) *Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok || sess.activeID == "" {
		return nil
	}
	return sess.tabs[sess.activeID]
}

// GetTab returns a specific tab of the session, or nil.
func (m *Manager) GetTab(sessionID, tabID string) *Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return sess.tabs[tabID]
}

// ListTabs returns the session's tabs in creation order.
func (m *Manager) ListTabs(sessionID string) []*Tab {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]*Tab, 0, len(sess.tabOrder))
	for _, tabID := range sess.tabOrder {
		out = append(out, sess.tabs[tabID])
	}
	return out
}

// SwitchTab repoints the session's active tab.
func (m *Manager) SwitchTab(sessionID, tabID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := sess.tabs[tabID]; !ok {
		return false
	}
	sess.activeID = tabID
	m.touchLocked(sess)
	return true
}

// CloseTab closes one tab, harvesting cookies first. Closing the last tab
// destroys the session.
func (m *Manager) CloseTab(ctx context.Context, sessionID, tabID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	tab, ok := sess.tabs[tabID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	m.harvestCookies(ctx, tab)
	tab.close() // close failures are swallowed by cancel semantics

	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok = m.sessions[sessionID]
	if !ok {
		return true
	}
	sess.removeTab(tabID)
	if sess.TabCount() == 0 {
		delete(m.sessions, sessionID)
		m.logger.Info("session %s removed (last tab closed)", sessionID)
	}
	return true
}

// Close destroys a session and all its tabs.
func (m *Manager) Close(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	tabs := make([]*Tab, 0, len(sess.tabs))
	for _, tab := range sess.tabs {
		tabs = append(tabs, tab)
	}
	m.mu.Unlock()

	if len(tabs) > 0 {
		m.harvestCookies(ctx, tabs[0])
	}
	for _, tab := range tabs {
		tab.close()
	}
	m.logger.Info("closed session %s", sessionID)
	return true
}

// CloseAll destroys every session and shuts down both browsers.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for sessionID := range m.sessions {
		ids = append(ids, sessionID)
	}
	m.mu.Unlock()

	for _, sessionID := range ids {
		m.Close(ctx, sessionID)
	}

	m.mu.Lock()
	for headless, h := range m.browsers {
		h.browserCancel()
		h.allocCancel()
		delete(m.browsers, headless)
	}
	m.mu.Unlock()
	m.cookies.Flush()
}

// Shutdown stops the sweepers and closes everything.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.stopTimers != nil {
		m.stopTimers()
	}
	m.CloseAll(ctx)
}

// UpdateActivity refreshes last-activity; headful sessions always keep at
// least one hour of remaining lifetime.
func (m *Manager) UpdateActivity(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		m.touchLocked(sess)
	}
}

func (m *Manager) touchLocked(sess *Session) {
	now := time.Now()
	sess.LastActivity = now
	expiry := now.Add(m.cfg.sessionTTL())
	if !sess.Headless {
		if min := now.Add(headfulMinRemain); expiry.Before(min) {
			expiry = min
		}
		if sess.ExpiresAt.After(expiry) {
			return
		}
	}
	sess.ExpiresAt = expiry
}

// SaveAllCookies harvests cookies from the session's active tab into the
// store. Errors are swallowed.
func (m *Manager) SaveAllCookies(ctx context.Context, sessionID string) {
	tab := m.GetActiveTab(sessionID)
	if tab == nil {
		return
	}
	m.harvestCookies(ctx, tab)
}

// SyncHeadfulCookies harvests cookies from every headful session.
func (m *Manager) SyncHeadfulCookies(ctx context.Context) {
	m.mu.Lock()
	var tabs []*Tab
	for _, sess := range m.sessions {
		if sess.Headless || sess.activeID == "" {
			continue
		}
		if tab, ok := sess.tabs[sess.activeID]; ok {
			tabs = append(tabs, tab)
		}
	}
	m.mu.Unlock()
	for _, tab := range tabs {
		m.harvestCookies(ctx, tab)
	}
}

// harvestCookies pulls all cookies (cross-domain included) from the browser
// owning the tab and merges them into the store. Failures are swallowed.
func (m *Manager) harvestCookies(ctx context.Context, tab *Tab) {
	var harvested []Cookie
	err := tab.Run(ctx, 10*time.Second, chromedp.ActionFunc(func(runCtx context.Context) error {
		cookies, err := storage.GetCookies().Do(runCtx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			harvested = append(harvested, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: string(c.SameSite),
			})
		}
		return nil
	}))
	if err != nil {
		m.logger.Debug("cookie harvest failed: %v", err)
		return
	}
	m.cookies.Save(harvested)
}

// injectCookies pushes every stored cookie into the browser owning the tab.
// Failures are swallowed.
func (m *Manager) injectCookies(ctx context.Context, tab *Tab) {
	all := m.cookies.All()
	if len(all) == 0 {
		return
	}
	params := make([]*network.CookieParam, 0, len(all))
	for _, c := range all {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expiry
		}
		params = append(params, p)
	}
	err := tab.Run(ctx, 10*time.Second, chromedp.ActionFunc(func(runCtx context.Context) error {
		return storage.SetCookies(params).Do(runCtx)
	}))
	if err != nil {
		m.logger.Debug("cookie inject failed: %v", err)
	}
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

// sweepExpired evicts sessions past expiry. Single-flight: a running sweep
// cannot re-enter.
func (m *Manager) sweepExpired() {
	if !m.sweeping.TryLock() {
		return
	}
	defer m.sweeping.Unlock()

	now := time.Now()
	m.mu.Lock()
	var expired []string
	for sessionID, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			expired = append(expired, sessionID)
		}
	}
	m.mu.Unlock()

	for _, sessionID := range expired {
		m.logger.Info("session %s expired", sessionID)
		m.Close(context.Background(), sessionID)
	}
}

func (m *Manager) idleLoop(ctx context.Context) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.closeIdleBrowsers()
		}
	}
}

// closeIdleBrowsers shuts down a browser when no session of its kind has
// existed for the idle delay.
func (m *Manager) closeIdleBrowsers() {
	if !m.idling.TryLock() {
		return
	}
	defer m.idling.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	inUse := map[bool]bool{}
	for _, sess := range m.sessions {
		inUse[sess.Headless] = true
	}
	now := time.Now()
	for headless, h := range m.browsers {
		if inUse[headless] {
			h.lastSessionAt = now
			continue
		}
		if now.Sub(h.lastSessionAt) >= idleBrowserDelay {
			h.browserCancel()
			h.allocCancel()
			delete(m.browsers, headless)
			m.logger.Info("closed idle browser (headless=%v)", headless)
		}
	}
}

func (m *Manager) headfulSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(headfulSyncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SyncHeadfulCookies(ctx)
		}
	}
}
