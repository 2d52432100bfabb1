package task

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"github.com/chenpu17/ai-browser/internal/browser"
	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/logging"
	"github.com/chenpu17/ai-browser/internal/semantic"
)

const (
	defaultExtractWindow    = 3
	maxExtractWindow        = 5
	maxCompareURLs          = 10
	defaultNumericTolerance = 0.01
	defaultTopSections      = 5
)

// Templates executes the built-in deterministic task templates against a
// browser session.
type Templates struct {
	manager   *browser.Manager
	collector semantic.Collector
	logger    logging.Logger
}

func NewTemplates(manager *browser.Manager, collector semantic.Collector, logger logging.Logger) *Templates {
	return &Templates{manager: manager, collector: collector, logger: logging.OrNop(logger)}
}

// Execute runs a template by id. Unknown ids fail with TEMPLATE_NOT_FOUND.
func (t *Templates) Execute(ctx context.Context, templateID, sessionID string, inputs map[string]any, report func(Progress)) (any, error) {
	switch templateID {
	case TemplateBatchExtract:
		return t.batchExtract(ctx, sessionID, inputs, report)
	case TemplateMultiTabDiff:
		return t.multiTabCompare(ctx, sessionID, inputs, report)
	case TemplateLoginSession:
		return t.loginKeepSession(ctx, sessionID, inputs)
	default:
		return nil, aiberrors.Newf(aiberrors.CodeTemplateNotFound, "unknown template: %s", templateID)
	}
}

// pageExtract is the per-URL outcome of an extraction template.
type pageExtract struct {
	URL          string             `json:"url"`
	Title        string             `json:"title,omitempty"`
	Sections     []semantic.Section `json:"sections,omitempty"`
	Links        []string           `json:"links,omitempty"`
	ElementCount int                `json:"elementCount"`
	Error        string             `json:"error,omitempty"`
	OK           bool               `json:"ok"`
}

// batchExtract opens each URL in its own short-lived tab, waits for the page
// to settle, and extracts its readable content. URLs are processed in
// windows so the session stays under its tab cap.
func (t *Templates) batchExtract(ctx context.Context, sessionID string, inputs map[string]any, report func(Progress)) (any, error) {
	urls, err := urlsInput(inputs)
	if err != nil {
		return nil, err
	}
	window := intInput(inputs, "window", defaultExtractWindow)
	if window < 1 {
		window = 1
	}
	if window > maxExtractWindow {
		window = maxExtractWindow
	}

	results := make([]pageExtract, len(urls))
	var (
		mu   sync.Mutex
		done int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(window)

	for i, url := range urls {
		i, url := i, url
		group.Go(func() error {
			results[i] = t.extractOne(groupCtx, sessionID, url)
			mu.Lock()
			done++
			current := done
			mu.Unlock()
			if report != nil {
				report(Progress{TotalSteps: len(urls), DoneSteps: current})
			}
			return groupCtx.Err()
		})
	}
	if err := group.Wait(); err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	succeeded := 0
	for _, r := range results {
		if r.OK {
			succeeded++
		}
	}
	return map[string]any{
		"summary": map[string]any{"succeeded": succeeded, "total": len(urls)},
		"pages":   results,
	}, nil
}

// extractOne runs the whole tab lifecycle for a single URL, retrying once
// when the failure is a navigation timeout or page crash.
func (t *Templates) extractOne(ctx context.Context, sessionID, url string) pageExtract {
	result, err := t.tryExtract(ctx, sessionID, url)
	if err != nil {
		switch aiberrors.CodeOf(err) {
		case aiberrors.CodeNavigationTimeout, aiberrors.CodePageCrashed:
			t.logger.Warn("extraction of %s failed (%v), retrying once", url, err)
			result, err = t.tryExtract(ctx, sessionID, url)
		}
	}
	if err != nil {
		return pageExtract{URL: url, Error: err.Error()}
	}
	result.OK = true
	return result
}

func (t *Templates) tryExtract(ctx context.Context, sessionID, url string) (pageExtract, error) {
	tab, err := t.manager.CreateTab(ctx, sessionID, url)
	if err != nil {
		return pageExtract{}, err
	}
	defer t.manager.CloseTab(ctx, sessionID, tab.ID)

	quiet := t.manager.Config().StabilityQuiet
	if err := browser.WaitForStable(ctx, tab, quiet, 15*time.Second); err != nil {
		t.logger.Debug("page %s never settled, extracting anyway", url)
	}

	content, err := t.collector.ExtractContent(ctx, tab)
	if err != nil {
		return pageExtract{}, err
	}
	extract := pageExtract{
		URL:      tab.URL(),
		Title:    content.Title,
		Sections: content.Sections,
		Links:    content.Links,
	}
	if elements, err := t.collector.CollectElements(ctx, tab); err == nil {
		extract.ElementCount = len(elements)
	}
	return extract, nil
}

// fieldDiff is the outcome of comparing one field of two pages.
type fieldDiff struct {
	Field string   `json:"field"`
	A     any      `json:"a,omitempty"`
	B     any      `json:"b,omitempty"`
	Equal bool     `json:"equal"`
	Diffs []string `json:"diffs,omitempty"`
}

// comparison pairs two extracted pages with their per-field differences.
type comparison struct {
	A          string      `json:"a"`
	B          string      `json:"b"`
	Similarity float64     `json:"similarity"`
	Fields     []fieldDiff `json:"fields,omitempty"`
}

// multiTabCompare extracts up to ten URLs and compares each page against the
// first one field by field: title, element count, and the leading sections.
// Numbers that agree within the tolerance are not reported as differences.
func (t *Templates) multiTabCompare(ctx context.Context, sessionID string, inputs map[string]any, report func(Progress)) (any, error) {
	urls, err := urlsInput(inputs)
	if err != nil {
		return nil, err
	}
	if len(urls) < 2 {
		return nil, aiberrors.New(aiberrors.CodeInvalidParameter, "compare needs at least two urls")
	}
	if len(urls) > maxCompareURLs {
		urls = urls[:maxCompareURLs]
	}
	tolerance := floatInput(inputs, "tolerance", defaultNumericTolerance)
	if tolerance < 0 {
		tolerance = 0
	}
	topN := intInput(inputs, "topSections", defaultTopSections)
	if topN < 1 {
		topN = 1
	}

	extracted, err := t.batchExtract(ctx, sessionID, map[string]any{
		"urls":   toAnySlice(urls),
		"window": intInput(inputs, "window", defaultExtractWindow),
	}, report)
	if err != nil {
		return nil, err
	}
	result := extracted.(map[string]any)
	pages := result["pages"].([]pageExtract)

	base := pages[0]
	var comparisons []comparison
	for _, page := range pages[1:] {
		if !base.OK || !page.OK {
			comparisons = append(comparisons, comparison{A: base.URL, B: page.URL})
			continue
		}
		comparisons = append(comparisons, comparePages(base, page, topN, tolerance))
	}
	result["comparisons"] = comparisons
	return result, nil
}

var numberPattern = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

func comparePages(a, b pageExtract, topN int, tolerance float64) comparison {
	c := comparison{A: a.URL, B: b.URL}
	var common, total int

	titleDiffs, com, tot := diffTexts(a.Title, b.Title, tolerance)
	common += com
	total += tot
	c.Fields = append(c.Fields, fieldDiff{
		Field: "title", A: a.Title, B: b.Title,
		Equal: len(titleDiffs) == 0, Diffs: titleDiffs,
	})

	c.Fields = append(c.Fields, fieldDiff{
		Field: "elementCount", A: a.ElementCount, B: b.ElementCount,
		Equal: withinTolerance(float64(a.ElementCount), float64(b.ElementCount), tolerance),
	})

	for i := 0; i < topN; i++ {
		textA := sectionText(a, i)
		textB := sectionText(b, i)
		if textA == "" && textB == "" {
			break
		}
		sectionDiffs, com, tot := diffTexts(textA, textB, tolerance)
		common += com
		total += tot
		c.Fields = append(c.Fields, fieldDiff{
			Field: fmt.Sprintf("section[%d]", i),
			Equal: len(sectionDiffs) == 0, Diffs: sectionDiffs,
		})
	}

	c.Similarity = 1.0
	if total > 0 {
		c.Similarity = float64(common) / float64(total)
	}
	return c
}

func sectionText(p pageExtract, i int) string {
	if i >= len(p.Sections) {
		return ""
	}
	return p.Sections[i].Text
}

// diffTexts runs a semantic text diff and returns the signed changed
// fragments (numeric noise removed) plus the equal/total character counts.
// Texts whose only divergence is numbers within the tolerance count as
// identical.
func diffTexts(textA, textB string, tolerance float64) (changed []string, common, total int) {
	if textA == textB || numbersWithinTolerance(textA, textB, tolerance) {
		return nil, len(textA), len(textA)
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(textA, textB, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	for _, d := range diffs {
		total += len(d.Text)
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
			continue
		}
		text := strings.TrimSpace(d.Text)
		if text == "" || len(changed) >= 20 {
			continue
		}
		sign := "+"
		if d.Type == diffmatchpatch.DiffDelete {
			sign = "-"
		}
		changed = append(changed, sign+truncate(text, 120))
	}
	return dropNumericNoise(changed, tolerance), common, total
}

// dropNumericNoise removes +/- diff pairs whose only change is a number
// within the relative tolerance.
func dropNumericNoise(diffs []string, tolerance float64) []string {
	out := diffs[:0:0]
	for i := 0; i < len(diffs); i++ {
		if i+1 < len(diffs) && numericallyEqual(diffs[i], diffs[i+1], tolerance) {
			i++
			continue
		}
		out = append(out, diffs[i])
	}
	return out
}

// numericallyEqual compares two signed diff fragments, skipping the +/-
// marker.
func numericallyEqual(a, b string, tolerance float64) bool {
	return numbersWithinTolerance(a[1:], b[1:], tolerance)
}

// numbersWithinTolerance reports whether a and b are the same text except
// for embedded numbers that agree within the relative tolerance.
func numbersWithinTolerance(a, b string, tolerance float64) bool {
	numsA := numberPattern.FindAllString(a, -1)
	numsB := numberPattern.FindAllString(b, -1)
	if len(numsA) == 0 || len(numsA) != len(numsB) {
		return false
	}
	stripped := func(s string) string { return numberPattern.ReplaceAllString(s, "#") }
	if stripped(a) != stripped(b) {
		return false
	}
	for i := range numsA {
		va, errA := strconv.ParseFloat(strings.ReplaceAll(numsA[i], ",", ""), 64)
		vb, errB := strconv.ParseFloat(strings.ReplaceAll(numsB[i], ",", ""), 64)
		if errA != nil || errB != nil {
			return false
		}
		if !withinTolerance(va, vb, tolerance) {
			return false
		}
	}
	return true
}

// withinTolerance compares two values relative to the first one's magnitude.
func withinTolerance(a, b, tolerance float64) bool {
	scale := a
	if scale < 0 {
		scale = -scale
	}
	if scale == 0 {
		scale = 1
	}
	delta := a - b
	return delta <= scale*tolerance && delta >= -scale*tolerance
}

// loginKeepSession fills a login form and verifies the session landed. The
// session's cookies are persisted so later runs reuse the login.
func (t *Templates) loginKeepSession(ctx context.Context, sessionID string, inputs map[string]any) (any, error) {
	username := stringInput(inputs, "username")
	password := stringInput(inputs, "password")
	if username == "" || password == "" {
		return nil, aiberrors.New(aiberrors.CodeInvalidParameter, "username and password are required")
	}

	tab := t.manager.GetActiveTab(sessionID)
	if tab == nil {
		return nil, aiberrors.Newf(aiberrors.CodeSessionNotFound, "session not found: %s", sessionID)
	}

	if url := stringInput(inputs, "url"); url != "" {
		if err := t.manager.NavigateTab(ctx, tab, url); err != nil {
			return nil, err
		}
	}
	quiet := t.manager.Config().StabilityQuiet
	_ = browser.WaitForStable(ctx, tab, quiet, 10*time.Second)

	userSel, err := t.resolveField(ctx, tab, stringInput(inputs, "usernameSelector"), "username email account input", "username")
	if err != nil {
		return nil, err
	}
	passSel, err := t.resolveField(ctx, tab, stringInput(inputs, "passwordSelector"), "password input", "password")
	if err != nil {
		return nil, err
	}

	if err := typeWithRetry(ctx, tab, userSel, username); err != nil {
		return nil, err
	}
	if err := typeWithRetry(ctx, tab, passSel, password); err != nil {
		return nil, err
	}

	if submitSel := stringInput(inputs, "submitSelector"); submitSel != "" {
		if err := browser.Click(ctx, tab, submitSel); err != nil {
			return nil, err
		}
	} else if submitSel, err := t.resolveField(ctx, tab, "", "login submit sign in button", ""); err == nil {
		if err := browser.Click(ctx, tab, submitSel); err != nil {
			return nil, err
		}
	} else {
		// No submit control found: Enter in the password field usually submits.
		if err := browser.PressKey(ctx, tab, "Enter", nil); err != nil {
			return nil, err
		}
	}

	loggedIn := t.verifyLogin(ctx, tab, inputs)
	if loggedIn {
		t.manager.SaveAllCookies(ctx, sessionID)
	}

	result := map[string]any{"success": loggedIn, "url": tab.URL()}
	if !loggedIn {
		result["error"] = "login success indicator not observed"
	}
	return result, nil
}

// resolveField turns an explicit CSS selector or a semantic query into a
// usable selector. fieldName is only used in the error.
func (t *Templates) resolveField(ctx context.Context, tab *browser.Tab, selector, query, fieldName string) (string, error) {
	if selector != "" {
		if err := tab.Run(ctx, 5*time.Second, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
			return "", aiberrors.Newf(aiberrors.CodeLoginFieldNotFound, "%s field %q not found on page", fieldName, selector)
		}
		return selector, nil
	}

	elements, err := t.collector.CollectElements(ctx, tab)
	if err != nil {
		return "", err
	}
	matches := t.collector.FindByQuery(elements, query, 1)
	if len(matches) == 0 {
		if fieldName == "" {
			return "", aiberrors.New(aiberrors.CodeElementNotFound, "no matching element")
		}
		return "", aiberrors.Newf(aiberrors.CodeLoginFieldNotFound, "%s field not found on page", fieldName)
	}
	return fmt.Sprintf(`[data-semantic-id=%q]`, matches[0].Element.ID), nil
}

func typeWithRetry(ctx context.Context, tab *browser.Tab, selector, text string) error {
	err := browser.TypeText(ctx, tab, selector, text, true)
	if err == nil {
		return nil
	}
	time.Sleep(500 * time.Millisecond)
	return browser.TypeText(ctx, tab, selector, text, true)
}

// verifyLogin checks the configured success indicator: a selector, a URL
// substring, or a stable page after a short settle window.
func (t *Templates) verifyLogin(ctx context.Context, tab *browser.Tab, inputs map[string]any) bool {
	quiet := t.manager.Config().StabilityQuiet
	if sel := stringInput(inputs, "successSelector"); sel != "" {
		return tab.Run(ctx, 15*time.Second, chromedp.WaitVisible(sel, chromedp.ByQuery)) == nil
	}
	if fragment := stringInput(inputs, "successURLContains"); fragment != "" {
		deadline := time.Now().Add(15 * time.Second)
		for time.Now().Before(deadline) {
			_ = browser.WaitForStable(ctx, tab, quiet, 3*time.Second)
			if strings.Contains(tab.URL(), fragment) {
				return true
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(500 * time.Millisecond):
			}
		}
		return false
	}
	return browser.WaitForStable(ctx, tab, quiet, 10*time.Second) == nil
}

func urlsInput(inputs map[string]any) ([]string, error) {
	raw, _ := inputs["urls"].([]any)
	urls := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			urls = append(urls, strings.TrimSpace(s))
		}
	}
	if len(urls) == 0 {
		return nil, aiberrors.New(aiberrors.CodeInvalidParameter, "urls is required and must be a non-empty string array")
	}
	return urls, nil
}

func stringInput(inputs map[string]any, key string) string {
	s, _ := inputs[key].(string)
	return s
}

func intInput(inputs map[string]any, key string, fallback int) int {
	switch n := inputs[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return fallback
}

func floatInput(inputs map[string]any, key string, fallback float64) float64 {
	switch n := inputs[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return fallback
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
