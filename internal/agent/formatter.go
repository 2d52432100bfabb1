package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chenpu17/ai-browser/internal/semantic"
	"github.com/chenpu17/ai-browser/internal/tools"
)

const (
	defaultResultBudget = 4000
	minResultBudget     = 200
)

const truncationNote = "\n…(truncated)"

// secretKeyPattern matches argument/result keys whose values must never
// reach the model in clear text.
var secretKeyPattern = regexp.MustCompile(`(?i)"([^"]*(password|passwd|secret|token|api[_-]?key|credential)[^"]*)"\s*:\s*"([^"]*)"`)

// Formatter renders tool results as budget-bounded text for the
// conversation. It keeps a per-session element snapshot so repeated
// get_page_info calls on the same URL emit only what changed.
type Formatter struct {
	budget int
	cache  *lru.Cache[string, elementSnapshot]
}

type elementSnapshot struct {
	url      string
	elements map[string]string
}

// NewFormatter creates a formatter with the given character budget
// (default 4000, floor 200).
func NewFormatter(budget int) *Formatter {
	if budget <= 0 {
		budget = defaultResultBudget
	}
	if budget < minResultBudget {
		budget = minResultBudget
	}
	cache, _ := lru.New[string, elementSnapshot](128)
	return &Formatter{budget: budget, cache: cache}
}

// Format renders one tool result. The output is masked and truncated to the
// budget.
func (f *Formatter) Format(call tools.Call, result *tools.Result) string {
	if result == nil {
		return "tool produced no result"
	}
	if !result.OK {
		text := fmt.Sprintf("ERROR %s: %s", result.ErrorCode, result.Message)
		if result.Hint != "" {
			text += "\nHint: " + result.Hint
		}
		return f.finish(text)
	}

	var text string
	switch call.Name {
	case tools.ToolGetPageInfo:
		text = f.formatPageInfo(call, result)
	case tools.ToolGetPageContent:
		text = formatPageContent(result)
	case tools.ToolFindElement:
		text = formatMatches(result)
	case tools.ToolScreenshot:
		text = formatScreenshot(result)
	case tools.ToolGetNetworkLogs:
		text = formatJSONData(result, "requests")
	case tools.ToolGetConsoleLogs:
		text = formatJSONData(result, "messages")
	default:
		text = result.Content
		if text == "" && result.Data != nil {
			if encoded, err := json.Marshal(result.Data); err == nil {
				text = string(encoded)
			}
		}
	}
	if text == "" {
		text = "ok"
	}
	return f.finish(text)
}

func (f *Formatter) finish(text string) string {
	text = MaskSecrets(text)
	if len(text) > f.budget {
		cut := f.budget - len(truncationNote)
		// Back up to a rune boundary so the model never sees a torn
		// multibyte sequence.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + truncationNote
	}
	return text
}

// MaskSecrets replaces values of password/secret/token-like JSON keys.
func MaskSecrets(text string) string {
	return secretKeyPattern.ReplaceAllString(text, `"$1": "********"`)
}

// formatPageInfo lists interactive elements, diffing against the previous
// call of the same session when the URL is unchanged and at most half the
// elements changed.
func (f *Formatter) formatPageInfo(call tools.Call, result *tools.Result) string {
	url, _ := result.Data["url"].(string)
	current := elementLines(result.Data["elements"])

	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\n", url)
	if pageType, ok := result.Data["pageType"].(string); ok && pageType != "" {
		fmt.Fprintf(&b, "Type: %s\n", pageType)
	}
	if summary, ok := result.Data["summary"].(string); ok && summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", summary)
	}

	prev, hadPrev := f.cache.Get(call.SessionID)
	f.cache.Add(call.SessionID, elementSnapshot{url: url, elements: current})

	if hadPrev && prev.url == url {
		added, removed, changed := diffElements(prev.elements, current)
		total := len(prev.elements)
		if len(current) > total {
			total = len(current)
		}
		if total > 0 && float64(len(added)+len(removed)+len(changed))/float64(total) <= 0.5 {
			fmt.Fprintf(&b, "Elements: %d (showing changes since last call)\n", len(current))
			writeDiffSection(&b, "Added", added, current)
			writeDiffSection(&b, "Removed", removed, prev.elements)
			writeDiffSection(&b, "Changed", changed, current)
			if len(added)+len(removed)+len(changed) == 0 {
				b.WriteString("No element changes.\n")
			}
			return b.String()
		}
	}

	fmt.Fprintf(&b, "Elements (%d):\n", len(current))
	for id, line := range current {
		fmt.Fprintf(&b, "- [%s] %s\n", id, line)
	}
	return b.String()
}

func writeDiffSection(b *strings.Builder, title string, ids []string, source map[string]string) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, id := range ids {
		fmt.Fprintf(b, "- [%s] %s\n", id, source[id])
	}
}

// elementLines renders elements to "id → description" for diffing. The data
// arrives either as typed elements or as decoded JSON maps.
func elementLines(raw any) map[string]string {
	out := make(map[string]string)
	switch elements := raw.(type) {
	case []semantic.Element:
		for _, el := range elements {
			out[el.ID] = describeElement(el.Type, el.Label, el.State)
		}
	case []any:
		for _, item := range elements {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			typ, _ := m["type"].(string)
			label, _ := m["label"].(string)
			state, _ := m["state"].(string)
			if id != "" {
				out[id] = describeElement(typ, label, state)
			}
		}
	}
	return out
}

func describeElement(typ, label, state string) string {
	desc := fmt.Sprintf("%s %q", typ, label)
	if state != "" {
		desc += " (" + state + ")"
	}
	return desc
}

func diffElements(prev, current map[string]string) (added, removed, changed []string) {
	for id, line := range current {
		old, ok := prev[id]
		if !ok {
			added = append(added, id)
		} else if old != line {
			changed = append(changed, id)
		}
	}
	for id := range prev {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed, changed
}

func formatPageContent(result *tools.Result) string {
	var b strings.Builder
	if title, ok := result.Data["title"].(string); ok && title != "" {
		fmt.Fprintf(&b, "# %s\n", title)
	}
	switch sections := result.Data["sections"].(type) {
	case []semantic.Section:
		for _, s := range sections {
			b.WriteString(s.Text)
			b.WriteString("\n")
		}
	case []any:
		for _, item := range sections {
			if m, ok := item.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					b.WriteString(text)
					b.WriteString("\n")
				}
			}
		}
	}
	if links, ok := result.Data["links"].([]string); ok && len(links) > 0 {
		b.WriteString("Links:\n")
		for i, link := range links {
			if i >= 15 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", link)
		}
	}
	return b.String()
}

func formatMatches(result *tools.Result) string {
	var b strings.Builder
	b.WriteString("Matches:\n")
	switch matches := result.Data["matches"].(type) {
	case []semantic.Match:
		for _, m := range matches {
			fmt.Fprintf(&b, "- [%s] %s %q (score %.2f, %s)\n",
				m.Element.ID, m.Element.Type, m.Element.Label, m.Score, m.MatchReason)
		}
	default:
		if encoded, err := json.Marshal(result.Data); err == nil {
			b.Write(encoded)
		}
	}
	return b.String()
}

// formatScreenshot never inlines image bytes into the conversation.
func formatScreenshot(result *tools.Result) string {
	if b64, ok := result.Data["base64"].(string); ok {
		return fmt.Sprintf("Screenshot captured (%d base64 chars, available to the caller).", len(b64))
	}
	return "Screenshot captured."
}

func formatJSONData(result *tools.Result, key string) string {
	encoded, err := json.MarshalIndent(map[string]any{key: result.Data[key]}, "", " ")
	if err != nil {
		return result.Content
	}
	return string(encoded)
}
