package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

func TestArtifactChunkedReads(t *testing.T) {
	store := NewArtifactStore(0)
	payload := make([]byte, maxChunkSize+100)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	artifact := store.Put("run-1", "application/octet-stream", payload)
	assert.Equal(t, len(payload), artifact.Size)

	_, first, err := store.Get(artifact.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, first, maxChunkSize)

	_, rest, err := store.Get(artifact.ID, maxChunkSize, 0)
	require.NoError(t, err)
	assert.Len(t, rest, 100)
	assert.Equal(t, payload, append(first, rest...))

	// Explicit limits above the cap are clamped.
	_, clamped, err := store.Get(artifact.ID, 0, maxChunkSize*4)
	require.NoError(t, err)
	assert.Len(t, clamped, maxChunkSize)
}

func TestArtifactGetErrors(t *testing.T) {
	store := NewArtifactStore(0)
	artifact := store.Put("run-1", "text/plain", []byte("abc"))

	_, _, err := store.Get("art_missing", 0, 0)
	assert.Equal(t, aiberrors.CodeArtifactNotFound, aiberrors.CodeOf(err))

	_, _, err = store.Get(artifact.ID, -1, 0)
	assert.Equal(t, aiberrors.CodeInvalidParameter, aiberrors.CodeOf(err))

	_, _, err = store.Get(artifact.ID, 4, 0)
	assert.Equal(t, aiberrors.CodeInvalidParameter, aiberrors.CodeOf(err))
}

func TestArtifactTTLStartsAtTerminal(t *testing.T) {
	store := NewArtifactStore(time.Millisecond)
	artifact := store.Put("run-1", "text/plain", []byte("keep me"))

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 0, store.Sweep(), "nothing expires before the run is terminal")

	store.MarkTerminal("run-1")
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, store.Sweep())

	_, _, err := store.Get(artifact.ID, 0, 0)
	assert.Error(t, err)
	assert.Empty(t, store.ListForRun("run-1"))
}
