package task

import (
	"sync"
	"time"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/id"
)

const (
	maxChunkSize       = 256 * 1024
	defaultArtifactTTL = 24 * time.Hour
)

// Artifact is a byte blob owned by a run, readable in chunks. Its TTL
// countdown starts when the owning run becomes terminal.
type Artifact struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	MIMEType  string    `json:"mimeType"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"createdAt"`

	data      []byte
	expiresAt time.Time
}

// ArtifactStore keeps artifacts in memory with TTL expiry.
type ArtifactStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	artifacts map[string]*Artifact
	byRun     map[string][]string
}

// NewArtifactStore creates a store with the given TTL (default 24 h).
func NewArtifactStore(ttl time.Duration) *ArtifactStore {
	if ttl <= 0 {
		ttl = defaultArtifactTTL
	}
	return &ArtifactStore{
		ttl:       ttl,
		artifacts: make(map[string]*Artifact),
		byRun:     make(map[string][]string),
	}
}

// Put stores a blob for a run. The TTL does not start until MarkTerminal.
func (s *ArtifactStore) Put(runID, mimeType string, data []byte) *Artifact {
	artifact := &Artifact{
		ID:        id.NewArtifactID(),
		RunID:     runID,
		MIMEType:  mimeType,
		Size:      len(data),
		CreatedAt: time.Now(),
		data:      append([]byte(nil), data...),
	}
	s.mu.Lock()
	s.artifacts[artifact.ID] = artifact
	s.byRun[runID] = append(s.byRun[runID], artifact.ID)
	s.mu.Unlock()
	return artifact
}

// MarkTerminal starts the TTL countdown for every artifact of the run.
func (s *ArtifactStore) MarkTerminal(runID string) {
	expiry := time.Now().Add(s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, artifactID := range s.byRun[runID] {
		if artifact, ok := s.artifacts[artifactID]; ok {
			artifact.expiresAt = expiry
		}
	}
}

// Get returns a chunk of at most 256 KiB starting at offset. limit <= 0
// means "as much as allowed".
func (s *ArtifactStore) Get(artifactID string, offset, limit int) (*Artifact, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifact, ok := s.artifacts[artifactID]
	if !ok {
		return nil, nil, aiberrors.Newf(aiberrors.CodeArtifactNotFound, "artifact not found: %s", artifactID)
	}
	if offset < 0 || offset > len(artifact.data) {
		return nil, nil, aiberrors.Newf(aiberrors.CodeInvalidParameter, "offset %d out of range (size %d)", offset, len(artifact.data))
	}
	if limit <= 0 || limit > maxChunkSize {
		limit = maxChunkSize
	}
	end := offset + limit
	if end > len(artifact.data) {
		end = len(artifact.data)
	}
	chunk := append([]byte(nil), artifact.data[offset:end]...)
	return artifact, chunk, nil
}

// ListForRun returns the run's artifact ids in creation order.
func (s *ArtifactStore) ListForRun(runID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.byRun[runID]))
	copy(out, s.byRun[runID])
	return out
}

// Sweep drops expired artifacts and returns how many were removed.
func (s *ArtifactStore) Sweep() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for artifactID, artifact := range s.artifacts {
		if artifact.expiresAt.IsZero() || now.Before(artifact.expiresAt) {
			continue
		}
		delete(s.artifacts, artifactID)
		removed++
		ids := s.byRun[artifact.RunID]
		for i, existing := range ids {
			if existing == artifactID {
				s.byRun[artifact.RunID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(s.byRun[artifact.RunID]) == 0 {
			delete(s.byRun, artifact.RunID)
		}
	}
	return removed
}
