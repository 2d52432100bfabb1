package memory

import (
	"net/url"
	"regexp"
	"strings"
)

// knownSecondLevel lists second-level registries where one more label must be
// kept when normalizing (e.g. example.com.cn stays example.com.cn).
var knownSecondLevel = map[string]bool{
	"com.cn": true, "net.cn": true, "org.cn": true, "gov.cn": true,
	"edu.cn": true, "co.uk": true, "co.jp": true, "com.hk": true,
	"com.tw": true, "com.au": true,
}

// chineseSiteNames maps site names that appear in Chinese task text to
// domains. The list is fixed; mappings are not learned automatically.
var chineseSiteNames = map[string]string{
	"百度":   "baidu.com",
	"淘宝":   "taobao.com",
	"天猫":   "tmall.com",
	"京东":   "jd.com",
	"微博":   "weibo.com",
	"知乎":   "zhihu.com",
	"哔哩哔哩": "bilibili.com",
	"B站":   "bilibili.com",
	"豆瓣":   "douban.com",
	"携程":   "ctrip.com",
	"美团":   "meituan.com",
	"拼多多":  "pinduoduo.com",
	"网易":   "163.com",
	"腾讯":   "qq.com",
}

var (
	urlPattern  = regexp.MustCompile(`https?://[^\s"'<>]+`)
	hostPattern = regexp.MustCompile(`\b([a-z0-9][a-z0-9-]*\.)+[a-z]{2,}\b`)
)

// NormalizeDomain reduces a hostname to its registrable form: strip a
// leading www. and collapse a single extra subdomain when the remainder is a
// plain second-level domain.
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	host = strings.TrimPrefix(host, "www.")
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	tail2 := strings.Join(labels[len(labels)-2:], ".")
	if knownSecondLevel[tail2] {
		if len(labels) > 3 {
			return strings.Join(labels[len(labels)-3:], ".")
		}
		return host
	}
	return tail2
}

// DomainOfURL returns the normalized domain of a URL, or "".
func DomainOfURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return NormalizeDomain(u.Hostname())
}

// ExtractDomainFromTask finds the domain a task is about: an explicit URL
// first, then a bare host-like token, then the fixed Chinese site-name map.
// Returns "" when nothing matches.
func ExtractDomainFromTask(task string) string {
	if m := urlPattern.FindString(task); m != "" {
		if d := DomainOfURL(m); d != "" {
			return d
		}
	}
	if m := hostPattern.FindString(strings.ToLower(task)); m != "" {
		return NormalizeDomain(m)
	}
	for name, domain := range chineseSiteNames {
		if strings.Contains(task, name) {
			return domain
		}
	}
	return ""
}
