package browser

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieStoreDomainMatching(t *testing.T) {
	s := NewCookieStore("", nil)
	s.Save([]Cookie{
		{Name: "sid", Value: "1", Domain: ".example.com", Path: "/"},
		{Name: "exact", Value: "2", Domain: "shop.example.com", Path: "/"},
		{Name: "other", Value: "3", Domain: "other.com", Path: "/"},
	})

	names := func(cookies []Cookie) []string {
		var out []string
		for _, c := range cookies {
			out = append(out, c.Name)
		}
		return out
	}

	got := s.GetForURL("https://shop.example.com/cart")
	assert.ElementsMatch(t, []string{"sid", "exact"}, names(got))

	got = s.GetForURL("https://example.com/")
	assert.ElementsMatch(t, []string{"sid"}, names(got))

	got = s.GetForURL("https://unrelated.net/")
	assert.Empty(t, got)
}

func TestCookieStoreMergeByNameAndPath(t *testing.T) {
	s := NewCookieStore("", nil)
	s.Save([]Cookie{{Name: "sid", Value: "old", Domain: "example.com", Path: "/"}})
	s.Save([]Cookie{{Name: "sid", Value: "new", Domain: "example.com", Path: "/"}})
	s.Save([]Cookie{{Name: "sid", Value: "scoped", Domain: "example.com", Path: "/admin"}})

	got := s.GetForURL("https://example.com/")
	require.Len(t, got, 2)

	values := map[string]string{}
	for _, c := range got {
		values[c.Path] = c.Value
	}
	assert.Equal(t, "new", values["/"])
	assert.Equal(t, "scoped", values["/admin"])
}

func TestCookieStoreFIFOEviction(t *testing.T) {
	s := NewCookieStore("", nil)
	for i := 0; i < maxCookieDomains+5; i++ {
		s.Save([]Cookie{{Name: "c", Value: "v", Domain: fmt.Sprintf("site%03d.com", i), Path: "/"}})
	}
	assert.Equal(t, maxCookieDomains, s.DomainCount())
	assert.Empty(t, s.GetForURL("https://site000.com/"), "oldest domain should be evicted")
	assert.NotEmpty(t, s.GetForURL(fmt.Sprintf("https://site%03d.com/", maxCookieDomains+4)))
}

func TestCookieStorePersistRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "cookies.json")

	s := NewCookieStore(file, nil)
	s.Save([]Cookie{{Name: "sid", Value: "abc", Domain: "example.com", Path: "/", Secure: true}})
	s.Flush()

	reloaded := NewCookieStore(file, nil)
	got := reloaded.GetForURL("https://example.com/")
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].Value)
	assert.True(t, got[0].Secure)
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "example.com", hostOf("https://example.com/path?q=1"))
	assert.Equal(t, "example.com", hostOf("https://user@example.com:8443/x"))
	assert.Equal(t, "example.com", hostOf("example.com"))
	assert.Equal(t, "", hostOf(""))
}

func TestDomainMatches(t *testing.T) {
	assert.True(t, domainMatches("shop.example.com", ".example.com"))
	assert.True(t, domainMatches("example.com", ".example.com"))
	assert.True(t, domainMatches("shop.example.com", "example.com"))
	assert.True(t, domainMatches("example.com", "example.com"))
	assert.False(t, domainMatches("badexample.com", "example.com"))
	assert.False(t, domainMatches("example.com", "shop.example.com"))
}
