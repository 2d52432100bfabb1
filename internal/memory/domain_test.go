package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	cases := []struct{ in, want string }{
		{"www.example.com", "example.com"},
		{"shop.example.com", "example.com"},
		{"EXAMPLE.COM", "example.com"},
		{"example.com.", "example.com"},
		{"a.b.example.com", "example.com"},
		{"news.example.com.cn", "example.com.cn"},
		{"www.example.co.uk", "example.co.uk"},
		{"localhost", "localhost"},
		{"example.com", "example.com"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeDomain(tc.in), "input %q", tc.in)
	}
}

func TestDomainOfURL(t *testing.T) {
	assert.Equal(t, "example.com", DomainOfURL("https://www.example.com/path?x=1"))
	assert.Equal(t, "bilibili.com", DomainOfURL("https://space.bilibili.com/123"))
	assert.Equal(t, "", DomainOfURL("not a url"))
}

func TestExtractDomainFromTask(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomainFromTask("open https://shop.example.com/cart and check out"))
	assert.Equal(t, "jd.com", ExtractDomainFromTask("go to jd.com and search for headphones"))
	assert.Equal(t, "baidu.com", ExtractDomainFromTask("在百度上搜索天气"))
	assert.Equal(t, "bilibili.com", ExtractDomainFromTask("打开B站看视频"))
	assert.Equal(t, "", ExtractDomainFromTask("summarize this page"))
}
