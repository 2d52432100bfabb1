package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chenpu17/ai-browser/internal/logging"
)

// DomainIndexEntry is one line of the memory index used for prompt
// construction.
type DomainIndexEntry struct {
	Domain       string   `json:"domain"`
	Version      int      `json:"version"`
	PatternCount int      `json:"patternCount"`
	TopPatterns  []string `json:"topPatterns,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

// CardStore persists knowledge cards as one JSON file per normalized domain
// under dir, with replaced versions archived under archive/<domain>/.
type CardStore struct {
	dir    string
	logger logging.Logger
	mu     sync.Mutex
}

// NewCardStore creates a store rooted at dir.
func NewCardStore(dir string, logger logging.Logger) *CardStore {
	return &CardStore{dir: dir, logger: logging.OrNop(logger)}
}

func (s *CardStore) cardPath(domain string) string {
	return filepath.Join(s.dir, domainFilename(domain)+".json")
}

func domainFilename(domain string) string {
	return strings.ReplaceAll(domain, "/", "_")
}

// LoadCard returns the card for a normalized domain, or nil when absent.
// Read failures are treated as absence.
func (s *CardStore) LoadCard(domain string) *KnowledgeCard {
	domain = NormalizeDomain(domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(domain)
}

func (s *CardStore) loadLocked(domain string) *KnowledgeCard {
	data, err := os.ReadFile(s.cardPath(domain))
	if err != nil {
		return nil
	}
	var card KnowledgeCard
	if err := json.Unmarshal(data, &card); err != nil {
		s.logger.Warn("memory card %s unreadable: %v", domain, err)
		return nil
	}
	return &card
}

// SaveCard merges the card's patterns over any existing card for the domain,
// bumps the version, archives the replaced card, and writes the result.
// Write failures are swallowed; memory must never fail an operation.
func (s *CardStore) SaveCard(card *KnowledgeCard) *KnowledgeCard {
	domain := NormalizeDomain(card.Domain)
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := *card
	merged.Domain = domain
	if existing := s.loadLocked(domain); existing != nil {
		s.archiveLocked(existing)
		merged.Patterns = MergePatterns(existing.Patterns, card.Patterns)
		merged.Version = existing.Version + 1
		if merged.SiteType == "" {
			merged.SiteType = existing.SiteType
		}
		merged.RequiresLogin = merged.RequiresLogin || existing.RequiresLogin
	} else if merged.Version == 0 {
		merged.Version = 1
	}
	merged.UpdatedAt = time.Now()

	s.writeLocked(s.cardPath(domain), &merged)
	return &merged
}

func (s *CardStore) archiveLocked(card *KnowledgeCard) {
	dir := filepath.Join(s.dir, "archive", domainFilename(card.Domain))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("memory archive mkdir failed: %v", err)
		return
	}
	name := time.Now().UTC().Format("20060102T150405.000000000") + ".json"
	s.writeLocked(filepath.Join(dir, name), card)
}

func (s *CardStore) writeLocked(path string, card *KnowledgeCard) {
	data, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		s.logger.Warn("memory card marshal failed: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.Warn("memory card mkdir failed: %v", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.logger.Warn("memory card write failed: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Warn("memory card rename failed: %v", err)
	}
}

// ListDomains returns an index entry per stored card, sorted by domain.
func (s *CardStore) ListDomains() []DomainIndexEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []DomainIndexEntry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		domain := strings.TrimSuffix(entry.Name(), ".json")
		card := s.loadLocked(domain)
		if card == nil {
			continue
		}
		index := DomainIndexEntry{
			Domain:       card.Domain,
			Version:      card.Version,
			PatternCount: len(card.Patterns),
		}
		if !card.UpdatedAt.IsZero() {
			index.UpdatedAt = card.UpdatedAt.Format(time.RFC3339)
		}
		for _, p := range topPatterns(card.Patterns, 3) {
			snippet := p.Description
			if snippet == "" {
				snippet = p.Value
			}
			if len(snippet) > 80 {
				snippet = snippet[:80]
			}
			index.TopPatterns = append(index.TopPatterns, snippet)
		}
		out = append(out, index)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// RestoreCard brings back an archived version by filename, replacing the
// current card through the normal save path.
func (s *CardStore) RestoreCard(domain, archiveName string) *KnowledgeCard {
	domain = NormalizeDomain(domain)
	path := filepath.Join(s.dir, "archive", domainFilename(domain), archiveName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var card KnowledgeCard
	if err := json.Unmarshal(data, &card); err != nil {
		return nil
	}
	return s.SaveCard(&card)
}

func topPatterns(patterns []Pattern, n int) []Pattern {
	sorted := make([]Pattern, len(patterns))
	copy(sorted, patterns)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].UseCount != sorted[j].UseCount {
			return sorted[i].UseCount > sorted[j].UseCount
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
