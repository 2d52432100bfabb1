package memory

import (
	"fmt"
	"sort"
	"strings"
)

const defaultInjectBudget = 1500

const staleFooter = "\n> Note: selectors above were learned from earlier visits and may be stale; verify with get_page_info before relying on them."

// globalTypes are pattern types that apply regardless of the task text.
var globalTypes = map[PatternType]bool{
	PatternLoginRequired: true,
	PatternSPAHint:       true,
	PatternTaskIntent:    true,
}

// Inject renders a card as a Markdown prompt snippet for the given task.
// Non-global patterns with no textual overlap with the task are dropped;
// task_intent patterns are ordered by overlap length, then recency; the
// remainder is greedily truncated to the character budget.
func Inject(card *KnowledgeCard, task string, budget int) string {
	if card == nil || len(card.Patterns) == 0 {
		return ""
	}
	if budget <= 0 {
		budget = defaultInjectBudget
	}
	taskLower := strings.ToLower(task)

	var kept []Pattern
	for _, p := range card.Patterns {
		if globalTypes[p.Type] || longestCommonSubstring(strings.ToLower(p.Description), taskLower) >= 2 {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ""
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Type == PatternTaskIntent || b.Type == PatternTaskIntent {
			la := longestCommonSubstring(strings.ToLower(a.Value), taskLower)
			lb := longestCommonSubstring(strings.ToLower(b.Value), taskLower)
			if la != lb {
				return la > lb
			}
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		return false
	})

	var b strings.Builder
	header := fmt.Sprintf("### Known facts about %s (v%d)\n", card.Domain, card.Version)
	b.WriteString(header)
	used := len(header) + len(staleFooter)
	hasSelector := false
	for _, p := range kept {
		line := fmt.Sprintf("- [%s] %s: %s\n", p.Type, p.Description, truncate(p.Value, 200))
		if used+len(line) > budget {
			break
		}
		b.WriteString(line)
		used += len(line)
		if p.Type == PatternSelector {
			hasSelector = true
		}
	}
	if hasSelector {
		b.WriteString(staleFooter)
	}
	return b.String()
}

// longestCommonSubstring returns the length of the longest common substring
// of a and b, byte-wise.
func longestCommonSubstring(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}

// BestCardForURL picks the card that should prime a navigation to rawURL:
// the normalized domain first, then the full hostname, then any stored
// domain the hostname ends with. Ties break on the most task_intent
// patterns, then the most patterns overall.
func BestCardForURL(store *CardStore, rawURL string) *KnowledgeCard {
	host := hostOfURL(rawURL)
	if host == "" {
		return nil
	}
	if card := store.LoadCard(NormalizeDomain(host)); card != nil {
		return card
	}
	if card := store.LoadCard(host); card != nil {
		return card
	}

	var best *KnowledgeCard
	for _, entry := range store.ListDomains() {
		if !strings.HasSuffix(host, entry.Domain) {
			continue
		}
		card := store.LoadCard(entry.Domain)
		if card == nil {
			continue
		}
		if best == nil || cardPriority(card) > cardPriority(best) {
			best = card
		}
	}
	return best
}

func cardPriority(card *KnowledgeCard) int {
	intents := 0
	for _, p := range card.Patterns {
		if p.Type == PatternTaskIntent {
			intents++
		}
	}
	return intents*1000 + len(card.Patterns)
}

func hostOfURL(rawURL string) string {
	d := rawURL
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	return strings.ToLower(d)
}
