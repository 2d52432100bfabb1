package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardStoreSaveBumpsVersionAndMerges(t *testing.T) {
	store := NewCardStore(t.TempDir(), nil)

	saved := store.SaveCard(&KnowledgeCard{
		Domain:   "example.com",
		Patterns: []Pattern{{Type: PatternSelector, Value: "#login", Confidence: 0.6}},
	})
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.Version)

	saved = store.SaveCard(&KnowledgeCard{
		Domain: "example.com",
		Patterns: []Pattern{
			{Type: PatternSelector, Value: "#login", Confidence: 0.9},
			{Type: PatternNavigationPath, Value: "https://example.com/login"},
		},
	})
	require.NotNil(t, saved)
	assert.Equal(t, 2, saved.Version, "version increases on every save")
	require.Len(t, saved.Patterns, 2)
	assert.Equal(t, 0.9, saved.Patterns[0].Confidence)

	loaded := store.LoadCard("example.com")
	require.NotNil(t, loaded)
	assert.Equal(t, 2, loaded.Version)
	assert.Len(t, loaded.Patterns, 2)
}

func TestCardStoreLoadMissingIsNil(t *testing.T) {
	store := NewCardStore(t.TempDir(), nil)
	assert.Nil(t, store.LoadCard("nowhere.example"))
}

func TestCardStoreListDomains(t *testing.T) {
	store := NewCardStore(t.TempDir(), nil)
	store.SaveCard(&KnowledgeCard{Domain: "a.com", Patterns: []Pattern{{Type: PatternSelector, Value: "#x"}}})
	store.SaveCard(&KnowledgeCard{Domain: "b.com", Patterns: []Pattern{{Type: PatternTaskIntent, Value: "buy things"}}})

	entries := store.ListDomains()
	require.Len(t, entries, 2)
	domains := []string{entries[0].Domain, entries[1].Domain}
	assert.ElementsMatch(t, []string{"a.com", "b.com"}, domains)
}

func TestBestCardForURLFallbackChain(t *testing.T) {
	store := NewCardStore(t.TempDir(), nil)
	store.SaveCard(&KnowledgeCard{
		Domain: "example.com",
		Patterns: []Pattern{
			{Type: PatternTaskIntent, Value: "compare laptop prices", LastUsedAt: time.Now()},
		},
	})

	card := BestCardForURL(store, "https://shop.example.com/deals")
	require.NotNil(t, card)
	assert.Equal(t, "example.com", card.Domain)

	assert.Nil(t, BestCardForURL(store, "https://unknown.net/"))
	assert.Nil(t, BestCardForURL(store, ""))
}

func TestInjectFiltersAndBudget(t *testing.T) {
	card := &KnowledgeCard{
		Domain:  "example.com",
		Version: 3,
		Patterns: []Pattern{
			{Type: PatternSelector, Description: "laptop search box", Value: "#search"},
			{Type: PatternSelector, Description: "unrelated widget", Value: "#widget"},
			{Type: PatternLoginRequired, Description: "site requires login", Value: "true"},
			{Type: PatternTaskIntent, Description: "compare laptop prices", Value: "compare laptop prices"},
		},
	}

	out := Inject(card, "find a cheap laptop", 1500)
	assert.Contains(t, out, "example.com")
	assert.Contains(t, out, "#search")
	assert.Contains(t, out, "login")
	assert.Contains(t, out, "may be stale", "selector patterns add the staleness note")

	// A tight budget keeps the header but drops pattern lines.
	tight := Inject(card, "find a cheap laptop", len("### Known facts about example.com (v3)\n")+len("\n> Note: selectors above were learned from earlier visits and may be stale; verify with get_page_info before relying on them.")+5)
	assert.Contains(t, tight, "example.com")
	assert.NotContains(t, tight, "#search")

	// No overlap and no global patterns yields nothing.
	none := Inject(&KnowledgeCard{
		Domain:   "example.com",
		Patterns: []Pattern{{Type: PatternSelector, Description: "zzzz", Value: "#z"}},
	}, "совершенно другое", 1500)
	assert.Equal(t, "", none)
}

func TestLongestCommonSubstring(t *testing.T) {
	assert.Equal(t, 0, longestCommonSubstring("", "abc"))
	assert.Equal(t, 3, longestCommonSubstring("xabcx", "zabcz"))
	assert.Equal(t, 1, longestCommonSubstring("abc", "cba"))
}
