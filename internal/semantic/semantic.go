// Package semantic declares the contract of the semantic-DOM extraction
// collaborator. The core collects interactive elements, extracts page
// content, and matches elements against free-text queries; implementations
// live outside this module.
package semantic

import "context"

// Element is one interactive element with a stable semantic identifier. The
// collector injects the identifier into the DOM as data-semantic-id so later
// lookups resolve deterministically.
type Element struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Label  string  `json:"label"`
	Bounds Bounds  `json:"bounds"`
	State  string  `json:"state,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageAnalysis classifies the page as a whole.
type PageAnalysis struct {
	PageType string   `json:"pageType"`
	Summary  string   `json:"summary"`
	Intents  []string `json:"intents,omitempty"`
}

// Region is a detected page region (header, nav, main content, ...).
type Region struct {
	Name   string `json:"name"`
	Bounds Bounds `json:"bounds"`
}

// Section is a scored block of extracted text.
type Section struct {
	Text      string  `json:"text"`
	Attention float64 `json:"attention"`
}

// PageContent is the readable content of the current page.
type PageContent struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
	Links    []string  `json:"links,omitempty"`
	Images   []string  `json:"images,omitempty"`
}

// Match pairs an element with its relevance to a free-text query.
type Match struct {
	Element     Element `json:"element"`
	Score       float64 `json:"score"`
	MatchReason string  `json:"matchReason"`
}

// Page abstracts the browsing surface handed to the collector. The browser
// package's Tab satisfies it.
type Page interface {
	// Evaluate runs a JavaScript expression in the page and decodes the
	// result into out.
	Evaluate(ctx context.Context, expression string, out any) error
	// URL returns the last-seen URL of the page.
	URL() string
}

// Collector is the semantic-DOM extraction library surface the core depends on.
type Collector interface {
	CollectElements(ctx context.Context, page Page) ([]Element, error)
	Analyze(ctx context.Context, page Page) (*PageAnalysis, error)
	DetectRegions(ctx context.Context, page Page) ([]Region, error)
	ExtractContent(ctx context.Context, page Page) (*PageContent, error)
	FindByQuery(elements []Element, query string, limit int) []Match
}
