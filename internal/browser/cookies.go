package browser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chenpu17/ai-browser/internal/logging"
)

const (
	maxCookieDomains   = 200
	cookieSaveDebounce = 5 * time.Second
)

// Cookie is the persisted subset of a CDP cookie record.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

func (c Cookie) key() string {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return c.Name + "|" + path
}

// CookieStore holds cookies per domain, keyed internally by (name, path) so a
// later save merges over an earlier one. Domains are capped with FIFO
// eviction; persistence to disk is debounced.
type CookieStore struct {
	mu       sync.Mutex
	domains  map[string]map[string]Cookie
	order    []string
	file     string
	logger   logging.Logger
	saveTimer *time.Timer
}

// NewCookieStore creates a store. file may be empty for in-memory only; when
// set, previously persisted cookies are loaded eagerly.
func NewCookieStore(file string, logger logging.Logger) *CookieStore {
	s := &CookieStore{
		domains: make(map[string]map[string]Cookie),
		file:    file,
		logger:  logging.OrNop(logger),
	}
	if file != "" {
		s.load()
	}
	return s
}

// Save merges cookies into the store. The most recent value for a given
// (name, domain, path) wins.
func (s *CookieStore) Save(cookies []Cookie) {
	if len(cookies) == 0 {
		return
	}
	s.mu.Lock()
	for _, c := range cookies {
		domain := normalizeCookieDomain(c.Domain)
		if domain == "" {
			continue
		}
		set, ok := s.domains[domain]
		if !ok {
			s.evictLocked()
			set = make(map[string]Cookie)
			s.domains[domain] = set
			s.order = append(s.order, domain)
		}
		set[c.key()] = c
	}
	s.scheduleSaveLocked()
	s.mu.Unlock()
}

// evictLocked drops the oldest domain when the cap is reached.
func (s *CookieStore) evictLocked() {
	for len(s.order) >= maxCookieDomains {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.domains, oldest)
		s.logger.Debug("cookie store evicted domain %s", oldest)
	}
}

// GetForURL returns every stored cookie whose domain matches the URL's
// hostname: exact match, parent domains, and leading-dot domain cookies.
func (s *CookieStore) GetForURL(rawURL string) []Cookie {
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Cookie
	for domain, set := range s.domains {
		if domainMatches(host, domain) {
			for _, c := range set {
				out = append(out, c)
			}
		}
	}
	return out
}

// All returns every stored cookie across all domains.
func (s *CookieStore) All() []Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Cookie
	for _, set := range s.domains {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

// DomainCount returns the number of distinct domains held.
func (s *CookieStore) DomainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.domains)
}

// Flush writes pending state to disk immediately.
func (s *CookieStore) Flush() {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	snapshot := s.snapshotLocked()
	file := s.file
	s.mu.Unlock()
	if file != "" {
		s.write(file, snapshot)
	}
}

func (s *CookieStore) scheduleSaveLocked() {
	if s.file == "" {
		return
	}
	if s.saveTimer != nil {
		return
	}
	s.saveTimer = time.AfterFunc(cookieSaveDebounce, func() {
		s.mu.Lock()
		s.saveTimer = nil
		snapshot := s.snapshotLocked()
		file := s.file
		s.mu.Unlock()
		s.write(file, snapshot)
	})
}

func (s *CookieStore) snapshotLocked() map[string][]Cookie {
	snapshot := make(map[string][]Cookie, len(s.domains))
	for domain, set := range s.domains {
		cookies := make([]Cookie, 0, len(set))
		for _, c := range set {
			cookies = append(cookies, c)
		}
		snapshot[domain] = cookies
	}
	return snapshot
}

// write persists atomically via rename. Failures are swallowed: cookie
// persistence must never surface as an operation error.
func (s *CookieStore) write(file string, snapshot map[string][]Cookie) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		s.logger.Warn("cookie store marshal failed: %v", err)
		return
	}
	tmp := file + ".tmp"
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		s.logger.Warn("cookie store mkdir failed: %v", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Warn("cookie store write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, file); err != nil {
		s.logger.Warn("cookie store rename failed: %v", err)
	}
}

func (s *CookieStore) load() {
	data, err := os.ReadFile(s.file)
	if err != nil {
		return
	}
	var snapshot map[string][]Cookie
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Warn("cookie store load failed: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for domain, cookies := range snapshot {
		set := make(map[string]Cookie, len(cookies))
		for _, c := range cookies {
			set[c.key()] = c
		}
		s.domains[domain] = set
		s.order = append(s.order, domain)
	}
}

func normalizeCookieDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// domainMatches implements cookie domain matching: an exact host match, or a
// dot-prefixed cookie domain matching the host or any parent of it.
func domainMatches(host, cookieDomain string) bool {
	host = strings.ToLower(host)
	cookieDomain = strings.ToLower(cookieDomain)
	bare := strings.TrimPrefix(cookieDomain, ".")
	if host == bare {
		return true
	}
	if strings.HasPrefix(cookieDomain, ".") && strings.HasSuffix(host, cookieDomain) {
		return true
	}
	// Host cookies also flow to subdomains when stored with a bare parent
	// domain (leading dot stripped by some servers).
	return strings.HasSuffix(host, "."+bare)
}

func hostOf(rawURL string) string {
	trimmed := rawURL
	if i := strings.Index(trimmed, "://"); i >= 0 {
		trimmed = trimmed[i+3:]
	}
	if i := strings.IndexAny(trimmed, "/?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	if i := strings.Index(trimmed, "@"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if i := strings.Index(trimmed, ":"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return strings.ToLower(trimmed)
}
