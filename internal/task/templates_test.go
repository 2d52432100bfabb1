package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/semantic"
)

func TestNumericallyEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"-Price: $12.99", "+Price: $12.95", true},
		{"-Price: $12.99", "+Price: $14.50", false},
		{"-1,299 in stock", "+1,305 in stock", true},
		{"-Total 100", "+Total 102", false},
		{"-no numbers here", "+no numbers here", false},
		{"-Price: $12.99", "+Shipping: $12.99", false},
		{"-2 of 5 stars", "+2 of 500 stars", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, numericallyEqual(tt.a, tt.b, defaultNumericTolerance), "%s vs %s", tt.a, tt.b)
	}

	// A looser tolerance absorbs bigger gaps.
	assert.False(t, numericallyEqual("-Total 100", "+Total 102", defaultNumericTolerance))
	assert.True(t, numericallyEqual("-Total 100", "+Total 102", 0.05))
}

func TestDropNumericNoise(t *testing.T) {
	diffs := []string{
		"-Price: $12.99",
		"+Price: $12.95",
		"-Sold out",
		"+In stock",
	}
	kept := dropNumericNoise(diffs, defaultNumericTolerance)
	assert.Equal(t, []string{"-Sold out", "+In stock"}, kept)

	// Non-adjacent numeric pairs survive.
	mixed := []string{"-Price: $12.99", "-Other", "+Price: $12.95"}
	assert.Equal(t, mixed, dropNumericNoise(mixed, defaultNumericTolerance))
}

func fieldByName(t *testing.T, c comparison, name string) fieldDiff {
	t.Helper()
	for _, f := range c.Fields {
		if f.Field == name {
			return f
		}
	}
	t.Fatalf("comparison has no field %q", name)
	return fieldDiff{}
}

func TestComparePagesPerField(t *testing.T) {
	a := pageExtract{
		URL:   "https://a.example.com",
		Title: "Laptop X",
		Sections: []semantic.Section{
			{Text: "Price: $999.00 with free shipping"},
			{Text: "In stock, ships tomorrow"},
		},
		ElementCount: 40,
		OK:           true,
	}
	b := pageExtract{
		URL:   "https://b.example.com",
		Title: "Laptop X Pro",
		Sections: []semantic.Section{
			{Text: "Price: $1299.00 with free shipping"},
			{Text: "In stock, ships tomorrow"},
		},
		ElementCount: 55,
		OK:           true,
	}

	c := comparePages(a, b, defaultTopSections, defaultNumericTolerance)
	assert.Equal(t, "https://a.example.com", c.A)
	assert.Equal(t, "https://b.example.com", c.B)

	title := fieldByName(t, c, "title")
	assert.False(t, title.Equal)
	assert.Equal(t, "Laptop X", title.A)
	assert.Equal(t, "Laptop X Pro", title.B)

	count := fieldByName(t, c, "elementCount")
	assert.False(t, count.Equal)
	assert.Equal(t, 40, count.A)
	assert.Equal(t, 55, count.B)

	price := fieldByName(t, c, "section[0]")
	assert.False(t, price.Equal, "a thirty percent price gap is a real difference")
	assert.NotEmpty(t, price.Diffs)

	same := fieldByName(t, c, "section[1]")
	assert.True(t, same.Equal)
	assert.Empty(t, same.Diffs)

	assert.Greater(t, c.Similarity, 0.5)
}

func TestComparePagesIdentical(t *testing.T) {
	a := pageExtract{
		URL:          "https://a.example.com",
		Title:        "Laptop X",
		Sections:     []semantic.Section{{Text: "Price: $999.00"}},
		ElementCount: 40,
		OK:           true,
	}
	c := comparePages(a, a, defaultTopSections, defaultNumericTolerance)
	assert.Equal(t, 1.0, c.Similarity)
	for _, f := range c.Fields {
		assert.True(t, f.Equal, "field %s", f.Field)
		assert.Empty(t, f.Diffs)
	}
}

func TestComparePagesToleranceIsConfigurable(t *testing.T) {
	a := pageExtract{
		URL:      "https://a.example.com",
		Title:    "Widget",
		Sections: []semantic.Section{{Text: "Price: $100.00 each"}},
		OK:       true,
	}
	b := pageExtract{
		URL:      "https://b.example.com",
		Title:    "Widget",
		Sections: []semantic.Section{{Text: "Price: $104.00 each"}},
		OK:       true,
	}

	strict := comparePages(a, b, defaultTopSections, defaultNumericTolerance)
	assert.False(t, fieldByName(t, strict, "section[0]").Equal)

	loose := comparePages(a, b, defaultTopSections, 0.05)
	assert.True(t, fieldByName(t, loose, "section[0]").Equal)
}

func TestComparePagesTopNLimitsSections(t *testing.T) {
	sections := make([]semantic.Section, 8)
	for i := range sections {
		sections[i] = semantic.Section{Text: "same text"}
	}
	a := pageExtract{URL: "https://a.example.com", Title: "T", Sections: sections, OK: true}

	c := comparePages(a, a, 2, defaultNumericTolerance)
	// title + elementCount + two sections.
	assert.Len(t, c.Fields, 4)
}

func TestUrlsInput(t *testing.T) {
	urls, err := urlsInput(map[string]any{"urls": []any{" https://a.example.com ", "", "https://b.example.com"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, urls)

	_, err = urlsInput(map[string]any{"urls": []any{}})
	assert.Equal(t, aiberrors.CodeInvalidParameter, aiberrors.CodeOf(err))

	_, err = urlsInput(nil)
	assert.Error(t, err)
}

func TestIntInputCoercesJSONNumbers(t *testing.T) {
	assert.Equal(t, 4, intInput(map[string]any{"window": float64(4)}, "window", 3))
	assert.Equal(t, 4, intInput(map[string]any{"window": 4}, "window", 3))
	assert.Equal(t, 3, intInput(map[string]any{}, "window", 3))
	assert.Equal(t, 3, intInput(map[string]any{"window": "four"}, "window", 3))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "1234567890...", truncate("1234567890abcdef", 10))
}
